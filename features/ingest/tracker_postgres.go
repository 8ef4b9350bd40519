package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresTracker keeps status records in the ingestion_status table so that
// they survive restarts and are shared across replicas.
type PostgresTracker struct {
	db *sql.DB
}

func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Put(ctx context.Context, rec StatusRecord) error {
	query := `INSERT INTO ingestion_status (file_id, status, chunks_created, error, processed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (file_id) DO UPDATE SET
			status = EXCLUDED.status,
			chunks_created = EXCLUDED.chunks_created,
			error = EXCLUDED.error,
			processed_at = EXCLUDED.processed_at,
			updated_at = NOW()`

	var chunks sql.NullInt64
	if rec.ChunksCreated != nil {
		chunks = sql.NullInt64{Int64: int64(*rec.ChunksCreated), Valid: true}
	}
	var cause sql.NullString
	if rec.Error != nil {
		cause = sql.NullString{String: *rec.Error, Valid: true}
	}
	var at sql.NullTime
	if rec.ProcessedAt != nil {
		at = sql.NullTime{Time: *rec.ProcessedAt, Valid: true}
	}

	_, err := t.db.ExecContext(ctx, query, rec.FileID, string(rec.Status), chunks, cause, at)
	return err
}

func (t *PostgresTracker) Get(ctx context.Context, fileID string) (StatusRecord, error) {
	query := `SELECT file_id, status, chunks_created, error, processed_at FROM ingestion_status WHERE file_id = $1`

	var (
		rec    StatusRecord
		status string
		chunks sql.NullInt64
		cause  sql.NullString
		at     sql.NullTime
	)
	err := t.db.QueryRowContext(ctx, query, fileID).Scan(&rec.FileID, &status, &chunks, &cause, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusRecord{}, ErrNotFound
	}
	if err != nil {
		return StatusRecord{}, err
	}

	rec.Status = Status(status)
	if chunks.Valid {
		n := int(chunks.Int64)
		rec.ChunksCreated = &n
	}
	if cause.Valid {
		rec.Error = &cause.String
	}
	if at.Valid {
		ts := at.Time.UTC()
		rec.ProcessedAt = &ts
	}
	return rec, nil
}

func (t *PostgresTracker) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM ingestion_status WHERE status <> 'processing' AND processed_at < $1`
	res, err := t.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
