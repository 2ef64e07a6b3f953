// Package botdetect flags clients issuing request bursts characteristic of
// automated scraping. It runs independently of quota enforcement: the hourly
// rate limit reacts too slowly to a 10-second burst, and a slow sustained
// scrape can stay under the hourly cap indefinitely.
package botdetect

import (
	"context"
	"fmt"
	"time"

	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/ratelimit"
	"fsmvid-proxy/pkg/types"
)

// Horizon is one burst threshold: flag when an identity reaches Threshold
// requests inside Window.
type Horizon struct {
	Name      string
	Threshold int
	Window    time.Duration
}

// Detector tracks per-identity request velocity over two horizons.
type Detector struct {
	store    ratelimit.CounterStore
	horizons []Horizon
	log      *logging.Logger
}

// New creates a detector. Horizons are checked in order; the first one whose
// threshold is reached names the rejection reason.
func New(store ratelimit.CounterStore, log *logging.Logger, horizons ...Horizon) *Detector {
	return &Detector{store: store, horizons: horizons, log: log.WithComponent("botdetect")}
}

// Track records one request from identity and reports whether it currently
// looks automated. Counters keep incrementing past the threshold, so a
// flagged identity stays rejected until the offending window decays.
func (d *Detector) Track(ctx context.Context, identity string) (*types.BotCheckResult, error) {
	for _, h := range d.horizons {
		key := fmt.Sprintf("botdetect:%s:%s", h.Name, identity)
		count, _, err := d.store.Incr(ctx, key, h.Window)
		if err != nil {
			return nil, fmt.Errorf("bot detector store: %w", err)
		}
		if count >= int64(h.Threshold) {
			d.log.Debug("bot burst detected", "identity", identity, "horizon", h.Name, "count", count)
			return &types.BotCheckResult{
				IsBot:  true,
				Reason: fmt.Sprintf("%d requests within %s", count, h.Window),
			}, nil
		}
	}
	return &types.BotCheckResult{}, nil
}
