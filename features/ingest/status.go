package ingest

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("ingestion status not found")

// StatusRecord describes the latest ingestion attempt for a file. While
// processing, ChunksCreated and ProcessedAt are nil. Completed records carry
// a chunk count, failed records an error, and both a ProcessedAt.
type StatusRecord struct {
	FileID        string     `json:"file_id"`
	Status        Status     `json:"status"`
	ChunksCreated *int       `json:"chunks_created"`
	Error         *string    `json:"error"`
	ProcessedAt   *time.Time `json:"processed_at"`
}

func Processing(fileID string) StatusRecord {
	return StatusRecord{FileID: fileID, Status: StatusProcessing}
}

func Completed(fileID string, chunks int, at time.Time) StatusRecord {
	at = at.UTC()
	return StatusRecord{FileID: fileID, Status: StatusCompleted, ChunksCreated: &chunks, ProcessedAt: &at}
}

func Failed(fileID, cause string, at time.Time) StatusRecord {
	at = at.UTC()
	return StatusRecord{FileID: fileID, Status: StatusFailed, Error: &cause, ProcessedAt: &at}
}

func (r StatusRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Tracker stores one StatusRecord per file id. Put overwrites. Get returns
// ErrNotFound for unknown ids. DeleteBefore evicts terminal records
// processed before cutoff and reports how many it removed; backends with
// native expiry may return 0.
type Tracker interface {
	Put(ctx context.Context, rec StatusRecord) error
	Get(ctx context.Context, fileID string) (StatusRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
