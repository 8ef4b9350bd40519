package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"studyrag/internal/embedding"
	"studyrag/internal/metrics"
	"studyrag/internal/retry"
	"studyrag/internal/vector"
)

var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

type Query struct {
	Text    string
	RoomIDs []string
	TopK    int
	FileID  string
}

type Service struct {
	embedder embedding.Embedder
	store    vector.Store
	policy   retry.Policy
	topK     int
	minScore float32
	logger   *QueryLogger
}

func NewService(e embedding.Embedder, s vector.Store, p retry.Policy, defaultTopK int, minScore float32, l *QueryLogger) *Service {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &Service{embedder: e, store: s, policy: p, topK: defaultTopK, minScore: minScore, logger: l}
}

// Retrieve embeds the query once and returns the room-scoped sources scoring
// at least the minimum relevance, best first. Ties order by file id then
// chunk index. Any embedding or store failure yields ErrRetrievalUnavailable
// and no results.
func (s *Service) Retrieve(ctx context.Context, q Query) (results []vector.SearchResult, err error) {
	start := time.Now()
	topK := q.TopK
	if topK <= 0 {
		topK = s.topK
	}

	defer func() {
		elapsed := time.Since(start)
		metrics.RetrievalDuration.Observe(elapsed.Seconds())
		if s.logger == nil {
			return
		}
		entry := QueryLogEntry{
			Query:      q.Text,
			RoomIDs:    q.RoomIDs,
			FileID:     q.FileID,
			TopK:       topK,
			NumResults: len(results),
			Duration:   elapsed,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		s.logger.Log(ctx, entry)
	}()

	vec, err := s.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		slog.ErrorContext(ctx, "query embedding failed", "error", err)
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}

	filter := vector.SearchFilter{RoomIDs: q.RoomIDs, FileID: q.FileID}
	found, err := retry.DoValue(ctx, s.policy, func() ([]vector.SearchResult, error) {
		return s.store.Search(ctx, vec, filter, topK)
	})
	if err != nil {
		slog.ErrorContext(ctx, "vector search failed", "error", err)
		return nil, fmt.Errorf("%w: search: %w", ErrRetrievalUnavailable, err)
	}

	results = make([]vector.SearchResult, 0, len(found))
	for _, r := range found {
		if r.Score >= s.minScore {
			results = append(results, r)
		}
	}
	Rank(results)
	if len(results) > topK {
		results = results[:topK]
	}

	slog.InfoContext(ctx, "retrieved sources", "candidates", len(found), "kept", len(results), "rooms", len(q.RoomIDs))
	return results, nil
}

// Rank orders sources by descending score, then ascending file id and chunk index.
func Rank(results []vector.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}
