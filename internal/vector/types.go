package vector

import (
	"context"
	"time"
)

// Chunk is one embedded segment of an ingested document. All chunks of a file
// share its RoomID and carry contiguous ChunkIndex values starting at 0.
type Chunk struct {
	FileID       string
	RoomID       string
	ChunkIndex   int
	TotalChunks  int
	Content      string
	SectionTitle string
	DocumentType string
	CharCount    int
	Vector       []float32
	CreatedAt    time.Time
}

type SearchResult struct {
	FileID       string  `json:"file_id"`
	RoomID       string  `json:"room_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Score        float32 `json:"relevance_score"`
	SectionTitle string  `json:"section_title,omitempty"`
	DocumentType string  `json:"document_type,omitempty"`
}

// SearchFilter restricts a similarity search to RoomIDs and, when set, a single file.
type SearchFilter struct {
	RoomIDs []string
	FileID  string
}

// Store is implemented by every chunk store backend. Upsert is atomic per call:
// on partial failure no chunk of the affected files remains. Deletes of
// unknown identifiers return 0.
type Store interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchResult, error)
	DeleteByFile(ctx context.Context, fileID, roomID string) (int, error)
	DeleteByRoom(ctx context.Context, roomID string) (int, error)
}
