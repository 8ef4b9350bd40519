package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"studyrag/features/ingest"
	"studyrag/internal/middleware"
)

// Processor runs one remote ingestion to a terminal status.
type Processor interface {
	ProcessRemote(ctx context.Context, task ingest.Task) error
}

// DefaultTouchInterval keeps in-flight messages alive well inside nsqd's
// message timeout.
const DefaultTouchInterval = 30 * time.Second

// IngestConsumer handles messages on the remote ingestion topic.
type IngestConsumer struct {
	processor Processor
	timeout   time.Duration
	touch     time.Duration
}

func NewIngestConsumer(p Processor, timeout time.Duration) *IngestConsumer {
	return &IngestConsumer{processor: p, timeout: timeout, touch: DefaultTouchInterval}
}

// WithTouchInterval sets how often a running message is touched. Zero disables touching.
func (c *IngestConsumer) WithTouchInterval(d time.Duration) *IngestConsumer {
	c.touch = d
	return c
}

func (c *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ingest.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: never retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if task.FileID == "" {
		slog.Error("poison pill: task without file_id")
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stop := c.keepAlive(m)
	defer stop()

	// Pipeline failures land in the tracker. Only a lost status write is
	// requeued, so the record does not stay in processing forever.
	if err := c.processor.ProcessRemote(ctx, task); err != nil {
		slog.ErrorContext(ctx, "remote ingestion status not recorded, requeueing", "file_id", task.FileID, "error", err)
		return err
	}
	return nil
}

// keepAlive touches m until the returned stop func is called, so a long
// download or embedding pass is not redelivered while still running.
func (c *IngestConsumer) keepAlive(m *nsq.Message) func() {
	if c.touch <= 0 || m.Delegate == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.touch)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
