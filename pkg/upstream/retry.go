package upstream

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop: up to MaxAttempts calls with a fixed
// Delay between them. The delay is fixed rather than exponential because the
// upstream's transient failures resolve within a second or two or not at
// all; backing off further only slows the common succeeds-on-retry case.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// retry runs fn up to p.MaxAttempts times, sleeping p.Delay between
// attempts. retryable decides whether a failed attempt is worth repeating;
// a non-retryable error stops the loop immediately. The last error is
// returned when the budget is exhausted.
func retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error), retryable func(error) bool) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Delay):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, lastErr
}
