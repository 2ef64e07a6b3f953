// Package types defines core domain types used throughout the application.
package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DownloadRequest represents an incoming download-request proxy call.
type DownloadRequest struct {
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	IsHomepage bool   `json:"isHomepage,omitempty"`
}

// FormatEntry is a single downloadable variant inside a format group.
type FormatEntry struct {
	URL         string `json:"url"`
	Size        string `json:"size"`
	OriginalURL string `json:"originalUrl,omitempty"`
}

// FormatGroups maps a format type (mp4, mp3, ...) to quality-keyed entries.
type FormatGroups map[string]map[string]FormatEntry

// MediaEntry is a single upstream media object. Upstream shapes vary per
// platform, so entries are passed through as loose maps; only the url-bearing
// fields are interpreted during rewriting.
type MediaEntry map[string]any

// MediaResponse is the canonical response contract. Every upstream shape is
// converted into this before it reaches the client or the response cache.
//
// Medias preserves the upstream's own structure: either []MediaEntry or, for
// the rare object-keyed variant, map[string]MediaEntry. After a round trip
// through the response cache it decodes as []any / map[string]any; consumers
// must handle both.
type MediaResponse struct {
	Status  string          `json:"status"`
	Title   string          `json:"title,omitempty"`
	Formats FormatGroups    `json:"formats,omitempty"`
	Medias  any             `json:"medias,omitempty"`
	Message string          `json:"message,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ErrorResponse builds a canonical error payload.
func ErrorResponse(message string, details json.RawMessage) *MediaResponse {
	return &MediaResponse{Status: "error", Message: message, Details: details}
}

// Action is the validator's recommendation for a request.
type Action string

const (
	ActionAllow       Action = "allow"
	ActionStrictLimit Action = "strict_limit"
	ActionBlock       Action = "block"
)

// ValidationResult is the trust classification derived from request headers.
type ValidationResult struct {
	Valid             bool
	IsBot             bool
	Reasons           []string
	RecommendedAction Action
}

// RateLimitResult is the outcome of a rate limit check for one policy.
type RateLimitResult struct {
	Success    bool
	Policy     string
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Headers returns the quota telemetry headers for this result.
func (r *RateLimitResult) Headers() http.Header {
	h := make(http.Header)
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", r.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", r.Remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", r.Reset.Unix()))
	if !r.Success {
		h.Set("Retry-After", fmt.Sprintf("%d", int(r.RetryAfter.Seconds())))
	}
	return h
}

// BotCheckResult is the outcome of a bot burst check.
type BotCheckResult struct {
	IsBot  bool
	Reason string
}

// DownloadEntry is a persisted mapping from a third-party media URL to a
// locally served proxied path.
type DownloadEntry struct {
	Key              string    `json:"key"`
	ProxiedPath      string    `json:"proxiedPath"`
	Filename         string    `json:"filename"`
	Quality          string    `json:"quality"`
	Format           string    `json:"format"`
	Title            string    `json:"title"`
	OriginalVideoURL string    `json:"originalVideoUrl"`
	OriginalMediaURL string    `json:"originalMediaUrl"`
	CreatedAt        time.Time `json:"createdAt"`
}
