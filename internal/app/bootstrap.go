package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"studyrag/internal/adapter/pgvector"
	"studyrag/internal/adapter/qdrant"
	wstore "studyrag/internal/adapter/weaviate"
	"studyrag/internal/config"
	"studyrag/internal/retry"
	"studyrag/internal/vector"
)

// VectorStore is a chunk store that can prepare its schema and report liveness.
type VectorStore interface {
	vector.Store
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Dependencies are the connected backing services. DB, Redis and NSQProducer
// are nil unless the configuration selects a backend that needs them.
type Dependencies struct {
	DB          *sql.DB
	Redis       *redis.Client
	VectorStore VectorStore
	NSQProducer *nsq.Producer
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	policy := bootstrapPolicy(cfg)

	if cfg.NeedsDB() {
		db, err := OpenDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		deps.DB = db
		if err := Migrate(db, cfg.MigrationPath); err != nil {
			deps.Close()
			return nil, err
		}
	}

	store, err := newVectorStore(cfg, deps.DB)
	if err != nil {
		deps.Close()
		return nil, err
	}
	if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, policy.InitialInterval); err != nil {
		deps.Close()
		return nil, fmt.Errorf("vector schema error: %w", err)
	}
	deps.VectorStore = store

	if cfg.TrackerBackend == config.TrackerBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		deps.Redis = client
		if err := retry.Do(ctx, policy, func() error { return client.Ping(ctx).Err() }); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	if cfg.IngestDispatch == config.DispatchNSQ {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func bootstrapPolicy(cfg *config.Config) retry.Policy {
	delay := cfg.Timeout(cfg.BootstrapRetryDelaySeconds)
	return retry.Policy{MaxAttempts: cfg.BootstrapRetryAttempts, InitialInterval: delay, MaxInterval: delay}
}

// OpenDB connects to Postgres, retrying the ping while the server starts.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	attempt := 0
	err = retry.Do(ctx, bootstrapPolicy(cfg), func() error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("failed to ping db, retrying...", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// Migrate applies every pending migration under path.
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied", "path", path)
	return nil
}

func newVectorStore(cfg *config.Config, db *sql.DB) (VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewStore(client, vector.ClassName(cfg.CollectionName)), nil
	case config.VectorBackendQdrant:
		return qdrant.NewStore(qdrant.Options{
			Endpoint:        cfg.QdrantURL,
			APIKey:          cfg.QdrantAPIKey,
			Collection:      cfg.CollectionName,
			VectorDimension: cfg.EmbeddingDimension,
		})
	case config.VectorBackendPGVector:
		if db == nil {
			return nil, fmt.Errorf("%w: pgvector needs a database", config.ErrInvalidConfig)
		}
		return pgvector.NewStore(db, cfg.CollectionName, cfg.EmbeddingDimension), nil
	default:
		return nil, fmt.Errorf("%w: VECTOR_BACKEND %q", config.ErrInvalidConfig, cfg.VectorBackend)
	}
}

// createTopics pre-creates the ingestion topic so lookupd-based consumers
// do not 404 before the first publish.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestRemote)
	}()
}

// EnsureSchemaWithRetry retries the schema check while the store starts up.
func EnsureSchemaWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ensure vector schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
