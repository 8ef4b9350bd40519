package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrag/internal/middleware"
)

func TestQueryLogger_ThreadSafety(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	concurrency := 50
	iterations := 100
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Log(context.Background(), QueryLogEntry{
					Query:    "test",
					Duration: time.Millisecond,
				})
			}
		}()
	}
	wg.Wait()

	decoder := json.NewDecoder(&buf)
	count := 0
	for decoder.More() {
		var entry QueryLogEntry
		if err := decoder.Decode(&entry); err != nil {
			t.Fatalf("Failed to decode entry %d: %v", count, err)
		}
		count++
	}

	assert.Equal(t, concurrency*iterations, count)
}

func TestQueryLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)
	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")

	logger.Log(ctx, QueryLogEntry{Query: "atp", RoomIDs: []string{"r1"}, NumResults: 2, Duration: 1500 * time.Millisecond})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.EqualValues(t, 1500, entry["latency_ms"])
	assert.Equal(t, []any{"r1"}, entry["room_ids"])
	assert.NotContains(t, entry, "error")
}

func TestNewFileQueryLogger(t *testing.T) {
	path := t.TempDir() + "/logs/query.log"
	logger, err := NewFileQueryLogger(path)
	require.NoError(t, err)
	logger.Log(context.Background(), QueryLogEntry{Query: "q"})
}
