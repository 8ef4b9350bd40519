package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// maxBatch is the Gemini API limit for batchEmbedContents.
const maxBatch = 100

var ErrEmptyEmbedding = errors.New("empty embedding received")

type Embedder struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewEmbedder(ctx context.Context, apiKey, model string, timeout time.Duration, opts ...option.ClientOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &Embedder{client: client, model: model, timeout: timeout}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// EmbedDocuments embeds texts for storage, in batches of at most maxBatch.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := e.batch(ctx, genai.TaskTypeRetrievalDocument, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Ping embeds a single word so health checks exercise the real API.
func (e *Embedder) Ping(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "ping")
	return err
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.batch(ctx, genai.TaskTypeRetrievalQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) batch(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "count", len(texts))
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = task

	b := em.NewBatch()
	for _, t := range texts {
		b.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, b)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d got %d", len(texts), len(res.Embeddings))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, ErrEmptyEmbedding
		}
		out[i] = emb.Values
	}
	return out, nil
}
