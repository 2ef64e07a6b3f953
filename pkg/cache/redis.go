package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/types"
)

// Redis is a shared response cache for multi-instance deployments.
// Entries are stored as JSON with a server-side TTL.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *logging.Logger
}

// NewRedis creates a Redis-backed response cache.
func NewRedis(rdb *redis.Client, ttl time.Duration, log *logging.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "fsmvid:response:",
		log:    log.WithComponent("response-cache"),
	}
}

// Get returns the cached response for key. Store errors and decode errors
// are treated as misses; the cache never fails a request.
func (c *Redis) Get(ctx context.Context, key string) (*types.MediaResponse, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var resp types.MediaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.log.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		c.rdb.Del(ctx, c.prefix+key)
		return nil, false
	}
	return &resp, true
}

// Set stores the response for key with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, resp *types.MediaResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
