// Package qdrant implements the chunk store over the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyrag/internal/vector"
)

var pointNamespace = uuid.MustParse("9d3c2f6a-1e47-4c8b-8f0d-2a6b5e7c9d10")

var errCollectionMissing = errors.New("qdrant collection missing")

type Options struct {
	Endpoint        string
	APIKey          string
	Collection      string
	VectorDimension int
	Timeout         time.Duration
	HTTPClient      *http.Client
}

type Store struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
}

func NewStore(opts Options) (*Store, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.Endpoint), "/")
	if baseURL == "" {
		return nil, errors.New("qdrant endpoint is required")
	}
	if opts.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Store{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		vectorSize: opts.VectorDimension,
	}, nil
}

func PointID(fileID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", fileID, chunkIndex))).String()
}

// EnsureSchema creates the collection and keyword indexes on the filter fields.
func (s *Store) EnsureSchema(ctx context.Context) error {
	err := s.Ping(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errCollectionMissing) {
		return err
	}

	create := createCollectionRequest{Vectors: vectorParams{Size: s.vectorSize, Distance: "Cosine"}}
	if err := s.do(ctx, http.MethodPut, s.path(""), create, nil); err != nil {
		return fmt.Errorf("create qdrant collection: %w", err)
	}
	for _, field := range []string{"file_id", "room_id"} {
		idx := payloadIndexRequest{FieldName: field, FieldSchema: "keyword"}
		if err := s.do(ctx, http.MethodPut, s.path("/index?wait=true"), idx, nil); err != nil {
			return fmt.Errorf("create qdrant index %s: %w", field, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.path(""), nil, nil)
}

func (s *Store) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]point, 0, len(chunks))
	for _, c := range chunks {
		if s.vectorSize > 0 && len(c.Vector) != s.vectorSize {
			return fmt.Errorf("vector dimension mismatch: want %d got %d", s.vectorSize, len(c.Vector))
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		points = append(points, point{
			ID:     PointID(c.FileID, c.ChunkIndex),
			Vector: c.Vector,
			Payload: map[string]any{
				"file_id":       c.FileID,
				"room_id":       c.RoomID,
				"chunk_index":   c.ChunkIndex,
				"total_chunks":  c.TotalChunks,
				"content":       c.Content,
				"section_title": c.SectionTitle,
				"document_type": c.DocumentType,
				"char_count":    c.CharCount,
				"created_at":    createdAt.Format(time.RFC3339),
			},
		})
	}

	if err := s.do(ctx, http.MethodPut, s.path("/points?wait=true"), upsertRequest{Points: points}, nil); err != nil {
		s.rollback(ctx, chunks)
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

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
	must := []condition{{Key: "room_id", Match: match{Any: filter.RoomIDs}}}
	if filter.FileID != "" {
		must = append(must, condition{Key: "file_id", Match: match{Value: filter.FileID}})
	}

	req := searchRequest{
		Vector:      vec,
		Limit:       limit,
		WithPayload: true,
		Filter:      &queryFilter{Must: must},
	}
	var hits []searchHit
	if err := s.do(ctx, http.MethodPost, s.path("/points/search"), req, &hits); err != nil {
		return nil, err
	}

	results := make([]vector.SearchResult, 0, len(hits))
	for _, hit := range hits {
		p := hit.Payload
		results = append(results, vector.SearchResult{
			FileID:       stringField(p, "file_id"),
			RoomID:       stringField(p, "room_id"),
			ChunkIndex:   intField(p, "chunk_index"),
			Content:      stringField(p, "content"),
			SectionTitle: stringField(p, "section_title"),
			DocumentType: stringField(p, "document_type"),
			Score:        hit.Score,
		})
	}
	return results, nil
}

func (s *Store) DeleteByFile(ctx context.Context, fileID, roomID string) (int, error) {
	must := []condition{{Key: "file_id", Match: match{Value: fileID}}}
	if roomID != "" {
		must = append(must, condition{Key: "room_id", Match: match{Value: roomID}})
	}
	return s.deleteByFilter(ctx, &queryFilter{Must: must})
}

func (s *Store) DeleteByRoom(ctx context.Context, roomID string) (int, error) {
	return s.deleteByFilter(ctx, &queryFilter{Must: []condition{{Key: "room_id", Match: match{Value: roomID}}}})
}

// deleteByFilter counts before deleting since Qdrant does not report how many
// points a filtered delete removed.
func (s *Store) deleteByFilter(ctx context.Context, filter *queryFilter) (int, error) {
	var count countResult
	if err := s.do(ctx, http.MethodPost, s.path("/points/count"), countRequest{Filter: filter, Exact: true}, &count); err != nil {
		return 0, err
	}
	if count.Count == 0 {
		return 0, nil
	}
	if err := s.do(ctx, http.MethodPost, s.path("/points/delete?wait=true"), deleteRequest{Filter: filter}, nil); err != nil {
		return 0, err
	}
	return count.Count, nil
}

func (s *Store) path(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), suffix)
}

func (s *Store) do(ctx context.Context, method, path string, payload, dest any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("encode qdrant request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return errCollectionMissing
	}

	var envelope struct {
		Status any             `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil && resp.StatusCode < 400 {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant %s %s: status %d: %v", method, path, resp.StatusCode, envelope.Status)
	}
	if status, ok := envelope.Status.(string); !ok || status != "ok" {
		return fmt.Errorf("qdrant %s %s: %v", method, path, envelope.Status)
	}

	if dest == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, dest)
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func intField(payload map[string]any, key string) int {
	switch n := payload[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

type payloadIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

type match struct {
	Value string   `json:"value,omitempty"`
	Any   []string `json:"any,omitempty"`
}

type condition struct {
	Key   string `json:"key"`
	Match match  `json:"match"`
}

type queryFilter struct {
	Must []condition `json:"must"`
}

type searchRequest struct {
	Vector      []float32    `json:"vector"`
	Limit       int          `json:"limit"`
	WithPayload bool         `json:"with_payload"`
	Filter      *queryFilter `json:"filter,omitempty"`
}

type searchHit struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type countRequest struct {
	Filter *queryFilter `json:"filter"`
	Exact  bool         `json:"exact"`
}

type countResult struct {
	Count int `json:"count"`
}

type deleteRequest struct {
	Filter *queryFilter `json:"filter"`
}
