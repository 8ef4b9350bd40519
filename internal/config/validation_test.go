package config_test

import (
	"errors"
	"testing"

	"studyrag/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		VectorBackend:     config.VectorBackendWeaviate,
		WeaviateHost:      "localhost:8080",
		EmbeddingProvider: config.EmbeddingProviderGemini,
		TrackerBackend:    config.TrackerBackendMemory,
		IngestDispatch:    config.DispatchInProcess,
		ChunkSize:         512,
		ChunkOverlap:      100,
		MaxFileSizeMB:     10,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:   "Valid Config",
			mutate: func(c *config.Config) {},
		},
		{
			name:    "Missing WeaviateHost",
			mutate:  func(c *config.Config) { c.WeaviateHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Unknown vector backend",
			mutate:  func(c *config.Config) { c.VectorBackend = "milvus" },
			wantErr: true,
			errIs:   config.ErrInvalidConfig,
		},
		{
			name:    "Unknown embedding provider",
			mutate:  func(c *config.Config) { c.EmbeddingProvider = "cohere" },
			wantErr: true,
			errIs:   config.ErrInvalidConfig,
		},
		{
			name: "Postgres tracker requires DB host",
			mutate: func(c *config.Config) {
				c.TrackerBackend = config.TrackerBackendPostgres
				c.DBUser = "user"
				c.DBName = "db"
			},
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "pgvector with full DB settings",
			mutate: func(c *config.Config) {
				c.VectorBackend = config.VectorBackendPGVector
				c.DBHost = "localhost"
				c.DBUser = "user"
				c.DBName = "db"
			},
		},
		{
			name:    "Overlap larger than chunk",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 600 },
			wantErr: true,
			errIs:   config.ErrInvalidConfig,
		},
		{
			name:    "Unknown dispatch",
			mutate:  func(c *config.Config) { c.IngestDispatch = "kafka" },
			wantErr: true,
			errIs:   config.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
