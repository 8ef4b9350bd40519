package app

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"studyrag/features/ingest"
	"studyrag/internal/adapter/gemini"
	"studyrag/internal/adapter/llm"
	"studyrag/internal/adapter/openai"
	"studyrag/internal/config"
	"studyrag/internal/embedding"
	"studyrag/internal/retry"
	"studyrag/internal/storage"
)

// Model is the generative model behind answers, study plans and summaries.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Stream(ctx context.Context, req llm.Request) iter.Seq2[string, error]
	GenerateWithTools(ctx context.Context, req llm.Request, tools []llm.Tool, maxRounds int) (string, error)
	Ping(ctx context.Context) error
}

// Clients are the remote APIs the features call per request.
type Clients struct {
	Embedder embedding.Embedder
	Model    Model
	Fetcher  ingest.Fetcher

	// EmbeddingPing reaches the provider directly, past the cache.
	EmbeddingPing func(ctx context.Context) error

	closers []io.Closer
}

func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	c := &Clients{}
	policy := requestPolicy(cfg)

	var base embedding.Embedder
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.Timeout(cfg.EmbeddingAPITimeout))
		if err != nil {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		c.closers = append(c.closers, e)
		base = e
		c.EmbeddingPing = e.Ping
	case config.EmbeddingProviderOpenAI:
		e, err := openai.NewEmbedder(openai.Options{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
			Timeout:   cfg.Timeout(cfg.EmbeddingAPITimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		base = e
		c.EmbeddingPing = e.Ping
	default:
		return nil, fmt.Errorf("%w: EMBEDDING_PROVIDER %q", config.ErrInvalidConfig, cfg.EmbeddingProvider)
	}
	c.Embedder = embedding.WithCache(
		embedding.WithRetry(base, policy),
		cfg.EmbeddingCacheSize,
		cfg.Timeout(cfg.EmbeddingCacheTTL),
	)

	model, err := llm.NewClient(ctx, llm.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.Timeout(cfg.LLMAPITimeout),
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}
	c.Model = model

	s3Client, err := storage.NewS3Client(ctx, storage.S3Options{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	if err != nil {
		// Plain HTTP(S) sources still work without S3.
		slog.Warn("s3 client unavailable, s3:// urls will be rejected", "error", err)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout(cfg.DownloadTimeout)}
	if s3Client != nil {
		c.Fetcher = storage.NewFetcher(s3Client, httpClient, cfg.MaxFileSizeBytes(), policy)
	} else {
		c.Fetcher = storage.NewFetcher(nil, httpClient, cfg.MaxFileSizeBytes(), policy)
	}

	slog.Info("clients ready", "embedding_provider", cfg.EmbeddingProvider, "model", model.Model())
	return c, nil
}

func (c *Clients) Close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			slog.Warn("failed to close client", "error", err)
		}
	}
}

// requestPolicy bounds retries of idempotent calls made while serving requests.
func requestPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	return p
}

func statusTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.StatusTTLHours) * time.Hour
}
