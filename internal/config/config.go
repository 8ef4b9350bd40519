package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendQdrant   = "qdrant"
	VectorBackendPGVector = "pgvector"

	EmbeddingProviderGemini = "gemini"
	EmbeddingProviderOpenAI = "openai"

	TrackerBackendMemory   = "memory"
	TrackerBackendPostgres = "postgres"
	TrackerBackendRedis    = "redis"

	DispatchInProcess = "inprocess"
	DispatchNSQ       = "nsq"
)

type Config struct {
	Port        int    `envconfig:"PORT" default:"8001"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`

	// Vector store
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"study_materials"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	QdrantURL      string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`

	// Models
	EmbeddingProvider  string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimension int    `envconfig:"EMBEDDING_DIMENSION" default:"768"`
	EmbeddingCacheSize int    `envconfig:"EMBEDDING_CACHE_SIZE" default:"1024"`
	EmbeddingCacheTTL  int    `envconfig:"EMBEDDING_CACHE_TTL_SECONDS" default:"600"`
	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	GeminiModel        string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OpenAIAPIKey       string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `envconfig:"OPENAI_BASE_URL"`

	// Processing
	ChunkSize         int     `envconfig:"CHUNK_SIZE" default:"512"`
	ChunkOverlap      int     `envconfig:"CHUNK_OVERLAP" default:"100"`
	TopKResults       int     `envconfig:"TOP_K_RESULTS" default:"5"`
	MinRelevanceScore float32 `envconfig:"MIN_RELEVANCE_SCORE" default:"0.3"`
	MaxFileSizeMB     int64   `envconfig:"MAX_FILE_SIZE_MB" default:"10"`

	// Ingestion status
	TrackerBackend  string `envconfig:"TRACKER_BACKEND" default:"memory"`
	StatusTTLHours  int    `envconfig:"STATUS_TTL_HOURS" default:"24"`
	StatusSweepSpec string `envconfig:"STATUS_SWEEP_SPEC" default:"*/15 * * * *"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`

	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"studyrag"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"studyrag"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Async ingestion
	IngestDispatch       string `envconfig:"INGEST_DISPATCH" default:"inprocess"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	IngestTaskTimeout    int    `envconfig:"INGEST_TASK_TIMEOUT" default:"600"`
	NSQLookupd           string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost             string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP             string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Object storage
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`

	// External services
	APIServerURL        string `envconfig:"API_SERVER_URL" default:"http://localhost:4000/api"`
	CalendarAPITimeout  int    `envconfig:"CALENDAR_API_TIMEOUT" default:"10"`
	EmbeddingAPITimeout int    `envconfig:"EMBEDDING_API_TIMEOUT" default:"30"`
	LLMAPITimeout       int    `envconfig:"LLM_API_TIMEOUT" default:"60"`
	DownloadTimeout     int    `envconfig:"DOWNLOAD_TIMEOUT" default:"60"`
	RetryMaxAttempts    int    `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`

	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over .env
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.VectorBackend {
	case VectorBackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case VectorBackendQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("%w: QDRANT_URL", ErrMissingRequired)
		}
	case VectorBackendPGVector:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalidConfig, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case EmbeddingProviderGemini, EmbeddingProviderOpenAI:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalidConfig, c.EmbeddingProvider)
	}

	switch c.TrackerBackend {
	case TrackerBackendMemory, TrackerBackendPostgres, TrackerBackendRedis:
	default:
		return fmt.Errorf("%w: TRACKER_BACKEND %q", ErrInvalidConfig, c.TrackerBackend)
	}

	switch c.IngestDispatch {
	case DispatchInProcess, DispatchNSQ:
	default:
		return fmt.Errorf("%w: INGEST_DISPATCH %q", ErrInvalidConfig, c.IngestDispatch)
	}

	if c.NeedsDB() {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be smaller than CHUNK_SIZE", ErrInvalidConfig)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("%w: MAX_FILE_SIZE_MB", ErrInvalidConfig)
	}
	return nil
}

// NeedsDB reports whether any configured backend is served by Postgres.
func (c *Config) NeedsDB() bool {
	return c.TrackerBackend == TrackerBackendPostgres || c.VectorBackend == VectorBackendPGVector
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

func (c *Config) Timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
