// Package ratelimit enforces named request quotas over fixed windows.
// Counters live in a CounterStore so single-instance deployments can run on
// an in-process map while multi-instance deployments share a Redis backend.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/types"
)

// Policy names used by the proxy pipeline.
const (
	PolicyProxy       = "PROXY"
	PolicyProxyStrict = "PROXY_STRICT"
)

// Policy is one named quota: at most Limit requests per Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// CounterStore provides atomic windowed counters. Incr must be
// increment-and-check in one step: concurrent callers may never observe the
// same count.
type CounterStore interface {
	// Incr increments the counter for key in its current fixed window and
	// returns the new count along with the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Limiter checks requests against registered policies.
type Limiter struct {
	store    CounterStore
	policies map[string]Policy
	log      *logging.Logger
}

// New creates a limiter over the given store and policies.
func New(store CounterStore, log *logging.Logger, policies ...Policy) *Limiter {
	m := make(map[string]Policy, len(policies))
	for _, p := range policies {
		m[p.Name] = p
	}
	return &Limiter{store: store, policies: m, log: log.WithComponent("ratelimit")}
}

// Check records one request from identity against the named policy.
// A store failure is returned to the caller, which degrades to allowing the
// request: quota enforcement is defense in depth, not a correctness gate.
func (l *Limiter) Check(ctx context.Context, identity, policy string) (*types.RateLimitResult, error) {
	p, ok := l.policies[policy]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit policy %q", policy)
	}

	key := fmt.Sprintf("ratelimit:%s:%s", p.Name, identity)
	count, reset, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := int64(p.Limit) - count
	if remaining < 0 {
		remaining = 0
	}

	res := &types.RateLimitResult{
		Success:   count <= int64(p.Limit),
		Policy:    p.Name,
		Limit:     p.Limit,
		Remaining: int(remaining),
		Reset:     reset,
	}
	if !res.Success {
		res.RetryAfter = time.Until(reset)
		l.log.Debug("rate limit exceeded", "policy", p.Name, "identity", identity, "count", count)
	}
	return res, nil
}
