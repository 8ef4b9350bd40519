package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "studyrag:ingest:status:"

// RedisTracker stores records as JSON with a TTL, so eviction is left to
// Redis and DeleteBefore is a no-op.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, ttl: ttl}
}

func (t *RedisTracker) Put(ctx context.Context, rec StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, redisKeyPrefix+rec.FileID, data, t.ttl).Err()
}

func (t *RedisTracker) Get(ctx context.Context, fileID string) (StatusRecord, error) {
	data, err := t.client.Get(ctx, redisKeyPrefix+fileID).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusRecord{}, ErrNotFound
	}
	if err != nil {
		return StatusRecord{}, err
	}

	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatusRecord{}, err
	}
	return rec, nil
}

func (t *RedisTracker) DeleteBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
