package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by Redis, for deployments where
// multiple proxy instances must share one view of per-client quotas.
//
// Counters are keyed by window-aligned buckets so INCR stays a single atomic
// operation; the bucket expires shortly after its window closes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fsmvid"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Incr implements CounterStore.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	bucket := now.UnixNano() / int64(window)
	reset := time.Unix(0, (bucket+1)*int64(window))

	redisKey := fmt.Sprintf("%s:%s:%d", s.prefix, key, bucket)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// Expire a window after the bucket closes; NX keeps the first writer's TTL.
	pipe.ExpireNX(ctx, redisKey, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	return incr.Val(), reset, nil
}
