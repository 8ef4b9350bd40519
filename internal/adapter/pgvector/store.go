// Package pgvector implements the chunk store on Postgres with the vector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"studyrag/internal/vector"
)

type Store struct {
	db        *sql.DB
	table     string
	dimension int
}

func NewStore(db *sql.DB, table string, dimension int) *Store {
	return &Store{db: db, table: pq.QuoteIdentifier(table), dimension: dimension}
}

// EnsureSchema creates the chunk table sized to the configured embedding dimension.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			total_chunks INT NOT NULL,
			content TEXT NOT NULL,
			section_title TEXT NOT NULL DEFAULT '',
			document_type TEXT NOT NULL DEFAULT '',
			char_count INT NOT NULL DEFAULT 0,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (file_id, chunk_index)
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (room_id)`, pq.QuoteIdentifier(indexName(s.table, "room")), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func indexName(table, suffix string) string {
	name := table
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	return name + "_" + suffix + "_idx"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert writes all chunks in one transaction.
func (s *Store) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`INSERT INTO %s
		(file_id, room_id, chunk_index, total_chunks, content, section_title, document_type, char_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (file_id, chunk_index) DO UPDATE SET
			room_id = EXCLUDED.room_id,
			total_chunks = EXCLUDED.total_chunks,
			content = EXCLUDED.content,
			section_title = EXCLUDED.section_title,
			document_type = EXCLUDED.document_type,
			char_count = EXCLUDED.char_count,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`, s.table)

	for _, c := range chunks {
		if s.dimension > 0 && len(c.Vector) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: want %d got %d", s.dimension, len(c.Vector))
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			c.FileID, c.RoomID, c.ChunkIndex, c.TotalChunks, c.Content,
			c.SectionTitle, c.DocumentType, c.CharCount, pgvector.NewVector(c.Vector), createdAt,
		); err != nil {
			return fmt.Errorf("insert chunk %s/%d: %w", c.FileID, c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, vec []float32, filter vector.SearchFilter, limit int) ([]vector.SearchResult, error) {
	query := fmt.Sprintf(`SELECT file_id, room_id, chunk_index, content, section_title, document_type,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE room_id = ANY($2) AND ($3 = '' OR file_id = $3)
		ORDER BY embedding <=> $1
		LIMIT $4`, s.table)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vec), pq.Array(filter.RoomIDs), filter.FileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []vector.SearchResult
	for rows.Next() {
		var r vector.SearchResult
		var score float64
		if err := rows.Scan(&r.FileID, &r.RoomID, &r.ChunkIndex, &r.Content, &r.SectionTitle, &r.DocumentType, &score); err != nil {
			return nil, err
		}
		r.Score = float32(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) DeleteByFile(ctx context.Context, fileID, roomID string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1 AND ($2 = '' OR room_id = $2)`, s.table)
	return s.exec(ctx, query, fileID, roomID)
}

func (s *Store) DeleteByRoom(ctx context.Context, roomID string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE room_id = $1`, s.table)
	return s.exec(ctx, query, roomID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
