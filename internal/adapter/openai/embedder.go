package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

const maxBatch = 100

var ErrEmptyEmbedding = errors.New("empty embedding received")

type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Embedder talks to any OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client    *goopenai.Client
	model     string
	dimension int
	timeout   time.Duration
}

func NewEmbedder(opts Options) (*Embedder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}
	return &Embedder{
		client:    goopenai.NewClientWithConfig(cfg),
		model:     model,
		dimension: opts.Dimension,
		timeout:   opts.Timeout,
	}, nil
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := e.embed(ctx, texts[start:end])
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
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "count", len(texts))
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(e.model),
		Dimensions: e.dimension,
	})
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d got %d", len(texts), len(resp.Data))
	}

	// Providers are not required to return data in input order.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, ErrEmptyEmbedding
		}
		out[i] = d.Embedding
	}
	return out, nil
}
