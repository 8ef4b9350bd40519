package weaviate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"studyrag/internal/vector"
)

// chunkNamespace seeds deterministic object IDs so re-ingesting a file
// overwrites rather than duplicates.
var chunkNamespace = uuid.MustParse("5b0b8f0e-3c4d-4e8a-9a57-6c2f1f0d7a11")

type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	return &Store{client: client, className: className}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateClientAdapter(s.client), s.className)
}

func (s *Store) Ping(ctx context.Context) error {
	return vector.NewWeaviateClientAdapter(s.client).Ready(ctx)
}

func ChunkID(fileID string, chunkIndex int) strfmt.UUID {
	id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", fileID, chunkIndex)))
	return strfmt.UUID(id.String())
}

func (s *Store) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batcher = batcher.WithObjects(&models.Object{
			Class: s.className,
			ID:    ChunkID(c.FileID, c.ChunkIndex),
			Properties: map[string]interface{}{
				"content":      c.Content,
				"fileId":       c.FileID,
				"roomId":       c.RoomID,
				"chunkIndex":   c.ChunkIndex,
				"totalChunks":  c.TotalChunks,
				"sectionTitle": c.SectionTitle,
				"documentType": c.DocumentType,
				"charCount":    c.CharCount,
				"createdAt":    createdAt.Format(time.RFC3339),
			},
			Vector: c.Vector,
		})
	}

	resp, err := batcher.Do(ctx)
	if err == nil {
		err = batchErrors(resp)
	}
	if err != nil {
		s.rollback(ctx, chunks)
		return fmt.Errorf("weaviate upsert: %w", err)
	}
	return nil
}

func batchErrors(resp []models.ObjectsGetResponse) error {
	var msgs []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}

// rollback removes whatever part of a failed batch was persisted.
func (s *Store) rollback(ctx context.Context, chunks []vector.Chunk) {
	ctx = context.WithoutCancel(ctx)
	seen := map[string]bool{}
	for _, c := range chunks {
		if seen[c.FileID] {
			continue
		}
		seen[c.FileID] = true
		if _, err := s.DeleteByFile(ctx, c.FileID, ""); err != nil {
			slog.ErrorContext(ctx, "failed to roll back partial upsert", "file_id", c.FileID, "error", err)
		}
	}
}

func (s *Store) Search(ctx context.Context, vec []float32, filter vector.SearchFilter, limit int) ([]vector.SearchResult, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "fileId"},
		{Name: "roomId"},
		{Name: "chunkIndex"},
		{Name: "sectionTitle"},
		{Name: "documentType"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithWhere(searchWhere(filter)).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql error: %s", strings.Join(msgs, "; "))
	}

	var results []vector.SearchResult
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	rows, ok := data[s.className].([]interface{})
	if !ok {
		return results, nil
	}
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		result := vector.SearchResult{}
		result.Content, _ = props["content"].(string)
		result.FileID, _ = props["fileId"].(string)
		result.RoomID, _ = props["roomId"].(string)
		result.SectionTitle, _ = props["sectionTitle"].(string)
		result.DocumentType, _ = props["documentType"].(string)
		if idx, ok := props["chunkIndex"].(float64); ok {
			result.ChunkIndex = int(idx)
		}
		// Cosine distance lies in [0, 2]; similarity is 1 - distance.
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				result.Score = float32(1 - distance)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func searchWhere(filter vector.SearchFilter) *filters.WhereBuilder {
	rooms := make([]*filters.WhereBuilder, 0, len(filter.RoomIDs))
	for _, room := range filter.RoomIDs {
		rooms = append(rooms, equal("roomId", room))
	}

	var roomWhere *filters.WhereBuilder
	if len(rooms) == 1 {
		roomWhere = rooms[0]
	} else {
		roomWhere = filters.Where().WithOperator(filters.Or).WithOperands(rooms)
	}

	if filter.FileID == "" {
		return roomWhere
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{roomWhere, equal("fileId", filter.FileID)})
}

func equal(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueText(value)
}

func (s *Store) DeleteByFile(ctx context.Context, fileID, roomID string) (int, error) {
	where := equal("fileId", fileID)
	if roomID != "" {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{where, equal("roomId", roomID)})
	}
	return s.deleteWhere(ctx, where)
}

func (s *Store) DeleteByRoom(ctx context.Context, roomID string) (int, error) {
	return s.deleteWhere(ctx, equal("roomId", roomID))
}

// deleteWhere repeats the batch delete while Weaviate reports that a pass
// hit its per-request match limit (QUERY_MAXIMUM_RESULTS).
func (s *Store) deleteWhere(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	total := 0
	for {
		resp, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.className).
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx)
		if err != nil {
			return total, err
		}
		if resp == nil || resp.Results == nil {
			return total, nil
		}
		res := resp.Results
		total += int(res.Successful)
		if res.Failed > 0 {
			return total, fmt.Errorf("weaviate delete: %d objects failed", res.Failed)
		}
		if res.Limit <= 0 || res.Matches < res.Limit || res.Successful == 0 {
			return total, nil
		}
	}
}
