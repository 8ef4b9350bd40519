package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"studyrag/features/conversation"
	"studyrag/features/health"
	"studyrag/features/ingest"
	"studyrag/features/query"
	"studyrag/features/studyplan"
	"studyrag/internal/config"
	"studyrag/internal/extract"
	"studyrag/internal/metrics"
	"studyrag/internal/middleware"
	"studyrag/internal/retrieval"
	"studyrag/internal/text"
	"studyrag/internal/worker"
)

const (
	healthTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	nsqMsgTimeout   = 2 * time.Minute
)

type App struct {
	Handler       http.Handler
	IngestService *ingest.Service
	Sweeper       *ingest.Sweeper
	Consumer      *nsq.Consumer

	cfg *config.Config
}

func New(cfg *config.Config, deps *Dependencies, clients *Clients) (*App, error) {
	tracker, err := newTracker(cfg, deps)
	if err != nil {
		return nil, err
	}

	// Feature: Ingestion
	ingestService := ingest.NewService(
		extract.NewRegistry(),
		text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		clients.Embedder,
		deps.VectorStore,
		tracker,
		clients.Fetcher,
		cfg.MaxFileSizeBytes(),
		cfg.IngestionConcurrency,
	)
	ingestHandler := ingest.NewHandler(ingestService)

	sweeper := ingest.NewSweeper(tracker, statusTTL(cfg))
	if err := sweeper.Schedule(cfg.StatusSweepSpec); err != nil {
		return nil, fmt.Errorf("%w: STATUS_SWEEP_SPEC: %v", config.ErrInvalidConfig, err)
	}

	var consumer *nsq.Consumer
	if cfg.IngestDispatch == config.DispatchNSQ {
		if deps.NSQProducer == nil {
			return nil, fmt.Errorf("%w: nsq dispatch needs a producer", config.ErrInvalidConfig)
		}
		ingestService.SetDispatcher(worker.NewPublisher(deps.NSQProducer))

		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxInFlight = max(cfg.IngestionConcurrency, 1)
		nsqCfg.MsgTimeout = nsqMsgTimeout
		consumer, err = nsq.NewConsumer(config.TopicIngestRemote, config.ChannelIngest, nsqCfg)
		if err != nil {
			return nil, fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.AddConcurrentHandlers(
			worker.NewIngestConsumer(ingestService, cfg.Timeout(cfg.IngestTaskTimeout)),
			max(cfg.IngestionConcurrency, 1),
		)
	}

	// Feature: Retrieval & Query
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(clients.Embedder, deps.VectorStore, requestPolicy(cfg),
		cfg.TopKResults, cfg.MinRelevanceScore, queryLogger)
	queryHandler := query.NewHandler(query.NewService(retrievalService, query.NewSynthesizer(clients.Model)))

	// Feature: Study plans
	calendar := studyplan.NewCalendarClient(cfg.APIServerURL,
		&http.Client{Timeout: cfg.Timeout(cfg.CalendarAPITimeout)}, requestPolicy(cfg))
	planHandler := studyplan.NewHandler(studyplan.NewService(calendar, clients.Model))

	// Feature: Conversation utilities
	summaryHandler := conversation.NewHandler(conversation.NewSummarizer(clients.Model))

	healthHandler := health.NewHandler(healthTimeout, healthChecks(deps, clients)...)

	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	handle("GET /health", healthHandler.ServeHTTP)
	mux.Handle("GET /metrics", metrics.Handler())

	handle("POST /ingest", ingestHandler.Upload)
	handle("POST /ingest/ingest-from-s3", ingestHandler.FromS3)
	handle("GET /ingest/ingest-status/{file_id}", ingestHandler.GetStatus)
	handle("DELETE /ingest/room/{room_id}", ingestHandler.DeleteRoom)
	handle("DELETE /ingest/{file_id}", ingestHandler.DeleteFile)

	handle("POST /query", queryHandler.Query)
	handle("POST /query/stream", queryHandler.Stream)

	handle("POST /study-plan/generate", planHandler.Generate)
	handle("POST /study-plan/preview", planHandler.Preview)

	handle("POST /utils/summarize-conversation", summaryHandler.Summarize)

	// Method-scoped patterns would answer preflights with 405.
	handle("OPTIONS /", func(http.ResponseWriter, *http.Request) {})

	return &App{
		Handler:       middleware.Metrics(mux),
		IngestService: ingestService,
		Sweeper:       sweeper,
		Consumer:      consumer,
		cfg:           cfg,
	}, nil
}

func newTracker(cfg *config.Config, deps *Dependencies) (ingest.Tracker, error) {
	switch cfg.TrackerBackend {
	case config.TrackerBackendPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: postgres tracker needs a database", config.ErrInvalidConfig)
		}
		return ingest.NewPostgresTracker(deps.DB), nil
	case config.TrackerBackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: redis tracker needs a redis client", config.ErrInvalidConfig)
		}
		return ingest.NewRedisTracker(deps.Redis, statusTTL(cfg)), nil
	default:
		return ingest.NewMemoryTracker(), nil
	}
}

func healthChecks(deps *Dependencies, clients *Clients) []health.Check {
	checks := []health.Check{
		{Name: "Vector DB", Ping: deps.VectorStore.Ping},
		{Name: "LLM", Ping: clients.Model.Ping},
	}
	if clients.EmbeddingPing != nil {
		checks = append(checks, health.Check{Name: "Embeddings", Ping: clients.EmbeddingPing})
	}
	if deps.DB != nil {
		checks = append(checks, health.Check{Name: "Database", Ping: deps.DB.PingContext})
	}
	if deps.Redis != nil {
		checks = append(checks, health.Check{Name: "Redis", Ping: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}})
	}
	if deps.NSQProducer != nil {
		checks = append(checks, health.Check{Name: "NSQ", Ping: func(context.Context) error {
			return deps.NSQProducer.Ping()
		}})
	}
	return checks
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// remote ingestions.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Sweeper.Start()
	defer a.Sweeper.Stop()

	if a.Consumer != nil {
		if err := a.Consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			return fmt.Errorf("connect to nsqlookupd: %w", err)
		}
		slog.Info("nsq ingest consumer connected", "topic", config.TopicIngestRemote, "channel", config.ChannelIngest)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if a.Consumer != nil {
		a.Consumer.Stop()
		select {
		case <-a.Consumer.StopChan:
		case <-shutdownCtx.Done():
		}
	}
	if err := a.IngestService.Wait(shutdownCtx); err != nil {
		slog.Warn("remote ingestions still running at shutdown", "error", err)
	}
	return nil
}
