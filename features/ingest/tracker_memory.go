package ingest

import (
	"context"
	"sync"
	"time"
)

type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]StatusRecord
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]StatusRecord)}
}

func (t *MemoryTracker) Put(_ context.Context, rec StatusRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[rec.FileID] = rec
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, fileID string) (StatusRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[fileID]
	if !ok {
		return StatusRecord{}, ErrNotFound
	}
	return rec, nil
}

func (t *MemoryTracker) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, rec := range t.records {
		if rec.Terminal() && rec.ProcessedAt != nil && rec.ProcessedAt.Before(cutoff) {
			delete(t.records, id)
			n++
		}
	}
	return n, nil
}
