// Package embedding defines the embedder contract shared by ingestion and
// retrieval, plus decorators for caching and retries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"studyrag/internal/retry"
)

var ErrEmbeddingFailed = errors.New("embedding failed")

// Embedder turns text into vectors. EmbedDocuments returns one vector per
// input, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// WithRetry retries transient failures and wraps the final error in
// ErrEmbeddingFailed.
func WithRetry(next Embedder, p retry.Policy) Embedder {
	return &retrying{next: next, policy: p}
}

type retrying struct {
	next   Embedder
	policy retry.Policy
}

func (r *retrying) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := retry.DoValue(ctx, r.policy, func() ([][]float32, error) {
		return r.next.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(vecs))
	}
	return vecs, nil
}

func (r *retrying) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := retry.DoValue(ctx, r.policy, func() ([]float32, error) {
		return r.next.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// WithCache memoizes query embeddings. Document embeddings pass through;
// chunks are rarely embedded twice.
func WithCache(next Embedder, size int, ttl time.Duration) Embedder {
	if size <= 0 || ttl <= 0 {
		return next
	}
	return &cached{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cached struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

func (c *cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedDocuments(ctx, texts)
}

func (c *cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		slog.DebugContext(ctx, "query embedding cache hit")
		return clone(v), nil
	}
	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

func clone(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
