package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrag/internal/testutils"
)

func TestTrackers_Integration(t *testing.T) {
	s := testutils.NewIntegrationSuite(t)
	s.Setup(testutils.Postgres, testutils.Redis)
	defer s.Teardown()

	trackers := map[string]Tracker{
		"postgres": NewPostgresTracker(s.DB),
		"redis":    NewRedisTracker(s.Redis, time.Hour),
	}
	for name, tr := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := tr.Get(ctx, "F1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, tr.Put(ctx, Processing("F1")))
			rec, err := tr.Get(ctx, "F1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessing, rec.Status)

			require.NoError(t, tr.Put(ctx, Completed("F1", 3, time.Now())))
			rec, err = tr.Get(ctx, "F1")
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, rec.Status)
			assert.Equal(t, 3, *rec.ChunksCreated)
			assert.NotNil(t, rec.ProcessedAt)
		})
	}

	t.Run("postgres sweep", func(t *testing.T) {
		ctx := context.Background()
		tr := trackers["postgres"]
		require.NoError(t, tr.Put(ctx, Failed("OLD", "boom", time.Now().Add(-72*time.Hour))))
		require.NoError(t, tr.Put(ctx, Processing("NEW")))

		n, err := tr.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = tr.Get(ctx, "NEW")
		assert.NoError(t, err)
	})

	t.Run("redis expiry", func(t *testing.T) {
		ctx := context.Background()
		tr := NewRedisTracker(s.Redis, time.Second)
		require.NoError(t, tr.Put(ctx, Completed("TTL", 1, time.Now())))

		ttl, err := s.Redis.TTL(ctx, redisKeyPrefix+"TTL").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})
}
