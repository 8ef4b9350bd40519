package ingest

import (
	"context"
	"log/slog"
	"sync"

	"studyrag/internal/middleware"
)

// Task is a detached ingestion of a remote document.
type Task struct {
	FileID        string         `json:"file_id"`
	RoomID        string         `json:"room_id"`
	DocumentType  string         `json:"document_type"`
	SourceURL     string         `json:"source_url"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Dispatcher hands a Task to whatever runs it. Dispatch returns once the
// task is queued; outcomes are reported only through the Tracker.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// InProcessDispatcher runs tasks on goroutines in this process, at most
// limit at a time.
type InProcessDispatcher struct {
	run func(ctx context.Context, task Task) error
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewInProcessDispatcher(run func(ctx context.Context, task Task) error, limit int) *InProcessDispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &InProcessDispatcher{run: run, sem: make(chan struct{}, limit)}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, task Task) error {
	// The request context ends with the response; the task must not.
	detached := middleware.WithCorrelationID(context.WithoutCancel(ctx), task.CorrelationID)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		if err := d.run(detached, task); err != nil {
			slog.ErrorContext(detached, "ingestion task failed", "file_id", task.FileID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (d *InProcessDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
