// Package services contains the download-request pipeline. ProxyService
// composes the abuse-mitigation, normalization, caching, upstream and
// transformation collaborators for one inbound request; all state lives in
// the injected collaborators, so the service itself is stateless.
package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"fsmvid-proxy/pkg/config"
	"fsmvid-proxy/pkg/interfaces"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/normalize"
	"fsmvid-proxy/pkg/ratelimit"
	"fsmvid-proxy/pkg/transform"
	"fsmvid-proxy/pkg/types"
	"fsmvid-proxy/pkg/upstream"
)

// URLRewriter swaps CDN media URLs for stable proxied download paths.
type URLRewriter interface {
	Rewrite(ctx context.Context, resp *types.MediaResponse, originalVideoURL string) *types.MediaResponse
}

// Result is a ready-to-send pipeline outcome.
type Result struct {
	Status  int
	Body    *types.MediaResponse
	Headers http.Header
}

// ProxyService orchestrates the download-request pipeline. The stage order
// is strict: cheap counter checks run before any upstream work so abusive
// traffic is rejected at minimal cost.
type ProxyService struct {
	cfg       *config.Config
	limiter   interfaces.RateLimiter
	bots      interfaces.BotDetector
	validator interfaces.Validator
	cache     interfaces.ResponseCache
	upstream  interfaces.UpstreamClient
	rewriter  URLRewriter
	log       *logging.Logger
}

// NewProxy creates the pipeline service.
func NewProxy(
	cfg *config.Config,
	limiter interfaces.RateLimiter,
	bots interfaces.BotDetector,
	validator interfaces.Validator,
	cache interfaces.ResponseCache,
	upstreamClient interfaces.UpstreamClient,
	rewriter URLRewriter,
	log *logging.Logger,
) *ProxyService {
	return &ProxyService{
		cfg:       cfg,
		limiter:   limiter,
		bots:      bots,
		validator: validator,
		cache:     cache,
		upstream:  upstreamClient,
		rewriter:  rewriter,
		log:       log.WithComponent("proxy"),
	}
}

// HandleDownload runs one request through the pipeline:
// rate limit, bot check, validation, conditional strict limit, normalize,
// cache lookup, upstream call, transform, rewrite, cache store.
// A rejection at any stage terminates immediately; no later stage runs.
func (s *ProxyService) HandleDownload(ctx context.Context, r *http.Request, req *types.DownloadRequest) *Result {
	identity := ClientIP(r)
	headers := make(http.Header)

	if rejected := s.checkLimit(ctx, identity, ratelimit.PolicyProxy, headers); rejected != nil {
		return rejected
	}

	bot, err := s.bots.Track(ctx, identity)
	if err != nil {
		s.log.Warn("bot detector unavailable, allowing request", "identity", identity, "error", err)
	} else if bot.IsBot {
		s.log.Debug("bot burst detected", "identity", identity, "reason", bot.Reason)
		return &Result{
			Status:  http.StatusTooManyRequests,
			Body:    types.ErrorResponse("Too many requests. Please slow down and try again later.", nil),
			Headers: headers,
		}
	}

	// Bot signatures and origin anomalies both block with 403, but the body
	// tells the caller which gate rejected it.
	validation := s.validator.Validate(r)
	switch {
	case validation.IsBot:
		s.log.Debug("bot signature blocked", "identity", identity, "reasons", validation.Reasons)
		return &Result{
			Status:  http.StatusForbidden,
			Body:    types.ErrorResponse("Access denied: automated clients are not allowed.", nil),
			Headers: headers,
		}
	case validation.RecommendedAction == types.ActionBlock:
		s.log.Debug("request blocked by validator", "identity", identity, "reasons", validation.Reasons)
		return &Result{
			Status:  http.StatusForbidden,
			Body:    types.ErrorResponse("Access denied: request origin not allowed.", nil),
			Headers: headers,
		}
	case validation.RecommendedAction == types.ActionStrictLimit:
		s.log.Debug("strict rate limit applied", "identity", identity, "reasons", validation.Reasons)
		if rejected := s.checkLimit(ctx, identity, ratelimit.PolicyProxyStrict, headers); rejected != nil {
			return rejected
		}
	}

	if req.URL == "" || req.Platform == "" {
		return &Result{
			Status:  http.StatusBadRequest,
			Body:    types.ErrorResponse("Missing required fields: url and platform", nil),
			Headers: headers,
		}
	}

	normalized := normalize.URL(req.URL, req.Platform)
	if normalized != req.URL {
		s.log.Debug("url normalized", "platform", req.Platform, "from", req.URL, "to", normalized)
	}

	if cached, ok := s.cache.Get(ctx, normalized); ok {
		s.log.Debug("response cache hit", "url", normalized)
		return &Result{Status: http.StatusOK, Body: cached, Headers: headers}
	}

	if err := s.cfg.Validate(); err != nil {
		// Operator misconfiguration, always logged.
		s.log.Error("upstream API not configured", "error", err)
		return &Result{
			Status:  http.StatusInternalServerError,
			Body:    types.ErrorResponse("Server configuration error", nil),
			Headers: headers,
		}
	}

	raw, _, err := s.upstream.Extract(ctx, normalized)
	if err != nil {
		return s.upstreamFailure(err, normalized, headers)
	}

	resp, err := transform.Canonical(raw, req.Platform)
	if err != nil {
		s.log.Error("unrecognized upstream payload", "url", normalized, "error", err)
		return &Result{
			Status:  http.StatusInternalServerError,
			Body:    types.ErrorResponse("Invalid API response format", nil),
			Headers: headers,
		}
	}

	if isYouTube(req.Platform, req.URL) {
		resp = s.rewriter.Rewrite(ctx, resp, req.URL)
	}

	if err := s.cache.Set(ctx, normalized, resp); err != nil {
		s.log.Warn("response cache write failed", "url", normalized, "error", err)
	}

	return &Result{Status: http.StatusOK, Body: resp, Headers: headers}
}

// checkLimit runs one policy check, merging quota telemetry headers into the
// shared header set. A limiter outage allows the request with a warning;
// abuse mitigation is defense in depth, not the correctness guarantee.
func (s *ProxyService) checkLimit(ctx context.Context, identity, policy string, headers http.Header) *Result {
	res, err := s.limiter.Check(ctx, identity, policy)
	if err != nil {
		s.log.Warn("rate limiter unavailable, allowing request", "policy", policy, "identity", identity, "error", err)
		return nil
	}

	mergeHeaders(headers, res.Headers())
	if res.Success {
		return nil
	}

	s.log.Debug("rate limit exceeded", "policy", policy, "identity", identity)
	return &Result{
		Status:  http.StatusTooManyRequests,
		Body:    types.ErrorResponse("Too many requests. Please try again later.", nil),
		Headers: headers,
	}
}

// upstreamFailure maps an extraction failure to its HTTP outcome. The "no
// media" and logical-error cases are expected user-triggered conditions and
// are not logged; everything else is.
func (s *ProxyService) upstreamFailure(err error, normalized string, headers http.Header) *Result {
	if errors.Is(err, upstream.ErrNoMedia) {
		return &Result{
			Status:  http.StatusNotFound,
			Body:    types.ErrorResponse("No downloadable media found for this URL.", nil),
			Headers: headers,
		}
	}

	if errors.Is(err, upstream.ErrUnreachable) {
		s.log.Error("extraction service unreachable", "url", normalized, "error", err)
		return &Result{
			Status:  http.StatusInternalServerError,
			Body:    types.ErrorResponse("The download service is unreachable. Please try again later.", nil),
			Headers: headers,
		}
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		if ue.StatusCode >= 500 {
			s.log.Error("upstream failure", "url", normalized, "status", ue.StatusCode, "message", ue.Message)
		}
		return &Result{
			Status:  ue.StatusCode,
			Body:    types.ErrorResponse(ue.FriendlyMessage(), ue.Details),
			Headers: headers,
		}
	}

	s.log.Error("unexpected proxy failure", "url", normalized, "error", err)
	return &Result{
		Status:  http.StatusInternalServerError,
		Body:    types.ErrorResponse("An unexpected error occurred. Please try again.", nil),
		Headers: headers,
	}
}

// ClientIP extracts the client identity: the first X-Forwarded-For hop when
// present, otherwise the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isYouTube matches the platform field or a YouTube domain in the source URL.
func isYouTube(platform, sourceURL string) bool {
	if strings.EqualFold(platform, "youtube") {
		return true
	}
	lower := strings.ToLower(sourceURL)
	return strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be")
}

func mergeHeaders(dst, src http.Header) {
	for key, values := range src {
		dst[key] = values
	}
}
