// Package interfaces defines the core abstractions for the download proxy.
// The orchestrator depends only on these, so every collaborator can be
// replaced with a fake in tests.
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"fsmvid-proxy/pkg/types"
)

// RateLimiter enforces named request quotas per client identity.
//
// Check must use atomic increment-and-check semantics: two concurrent
// requests from the same identity must never both pass a boundary meant to
// admit only one.
type RateLimiter interface {
	// Check records one request against the named policy and reports whether
	// it is within quota. A store failure returns an error; callers degrade
	// to allowing the request.
	Check(ctx context.Context, identity, policy string) (*types.RateLimitResult, error)
}

// BotDetector flags identities issuing bursts characteristic of automation.
type BotDetector interface {
	// Track records one request and reports whether the identity is
	// currently considered a bot. Called exactly once per request.
	Track(ctx context.Context, identity string) (*types.BotCheckResult, error)
}

// Validator classifies request trust from static headers alone.
type Validator interface {
	Validate(r *http.Request) *types.ValidationResult
}

// ResponseCache stores canonical responses keyed by normalized source URL.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*types.MediaResponse, bool)
	Set(ctx context.Context, key string, resp *types.MediaResponse) error
}

// DownloadStore persists proxied-path mappings for third-party media URLs.
type DownloadStore interface {
	Put(ctx context.Context, entry *types.DownloadEntry) error
	Get(ctx context.Context, key string) (*types.DownloadEntry, error)
	Close() error
}

// UpstreamClient calls the third-party extraction API.
type UpstreamClient interface {
	// Extract submits a normalized URL and returns the raw upstream payload
	// together with the HTTP status it arrived with.
	Extract(ctx context.Context, normalizedURL string) (json.RawMessage, int, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
