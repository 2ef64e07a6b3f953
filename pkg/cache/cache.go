// Package cache stores canonical responses keyed by normalized source URL.
// A non-expired entry short-circuits the whole pipeline: upstream call,
// retries, transformation and rewriting are all skipped.
package cache

import (
	"context"
	"sync"
	"time"

	"fsmvid-proxy/pkg/types"
)

// Memory is an in-process TTL cache with periodic cleanup.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	resp      *types.MediaResponse
	expiresAt time.Time
}

// NewMemory creates an in-process response cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached response for key, if present and not expired.
func (c *Memory) Get(ctx context.Context, key string) (*types.MediaResponse, bool) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(ent.expiresAt) {
		return nil, false
	}
	return ent.resp, true
}

// Set stores the response for key. Last write wins; two concurrent fills of
// the same key are redundant work, not a correctness problem.
func (c *Memory) Set(ctx context.Context, key string, resp *types.MediaResponse) error {
	c.mu.Lock()
	c.entries[key] = &memoryEntry{resp: resp, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Cleanup drops expired entries.
func (c *Memory) Cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ent := range c.entries {
		if now.After(ent.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until the context is cancelled.
func (c *Memory) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}
