package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fsmvid-proxy/pkg/config"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/ratelimit"
	"fsmvid-proxy/pkg/types"
	"fsmvid-proxy/pkg/upstream"
)

type fakeLimiter struct {
	calls  []string
	reject map[string]bool
	err    error
}

func (f *fakeLimiter) Check(ctx context.Context, identity, policy string) (*types.RateLimitResult, error) {
	f.calls = append(f.calls, policy)
	if f.err != nil {
		return nil, f.err
	}
	return &types.RateLimitResult{
		Success:   !f.reject[policy],
		Policy:    policy,
		Limit:     200,
		Remaining: 100,
	}, nil
}

type fakeBots struct {
	isBot bool
	err   error
	calls int
}

func (f *fakeBots) Track(ctx context.Context, identity string) (*types.BotCheckResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.BotCheckResult{IsBot: f.isBot, Reason: "burst"}, nil
}

type fakeValidator struct {
	result types.ValidationResult
}

func (f *fakeValidator) Validate(r *http.Request) *types.ValidationResult {
	out := f.result
	return &out
}

type fakeCache struct {
	entries map[string]*types.MediaResponse
	setErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*types.MediaResponse)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (*types.MediaResponse, bool) {
	resp, ok := f.entries[key]
	return resp, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, resp *types.MediaResponse) error {
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = resp
	return nil
}

type fakeUpstream struct {
	payload json.RawMessage
	err     error
	calls   int
	lastURL string
}

func (f *fakeUpstream) Extract(ctx context.Context, normalizedURL string) (json.RawMessage, int, error) {
	f.calls++
	f.lastURL = normalizedURL
	if f.err != nil {
		return nil, http.StatusInternalServerError, f.err
	}
	return f.payload, http.StatusOK, nil
}

type fakeRewriter struct {
	calls int
}

func (f *fakeRewriter) Rewrite(ctx context.Context, resp *types.MediaResponse, originalVideoURL string) *types.MediaResponse {
	f.calls++
	return resp
}

type pipeline struct {
	svc      *ProxyService
	limiter  *fakeLimiter
	bots     *fakeBots
	cache    *fakeCache
	upstream *fakeUpstream
	rewriter *fakeRewriter
}

func newPipeline(validation types.ValidationResult) *pipeline {
	p := &pipeline{
		limiter:  &fakeLimiter{reject: make(map[string]bool)},
		bots:     &fakeBots{},
		cache:    newFakeCache(),
		upstream: &fakeUpstream{payload: json.RawMessage(`{"title":"clip","formats":{"mp4":{"720p":{"url":"https://cdn.zm.io/v.mp4","size":"10 MB"}}}}`)},
		rewriter: &fakeRewriter{},
	}
	cfg := &config.Config{APIURL: "https://api.example.com/extract", APIKey: "secret"}
	p.svc = NewProxy(cfg, p.limiter, p.bots, &fakeValidator{result: validation}, p.cache, p.upstream, p.rewriter, logging.Discard())
	return p
}

func allowAll() types.ValidationResult {
	return types.ValidationResult{Valid: true, RecommendedAction: types.ActionAllow}
}

func downloadRequest() *types.DownloadRequest {
	return &types.DownloadRequest{URL: "https://vimeo.com/12345", Platform: "vimeo"}
}

func httpRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/proxy", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	return r
}

func TestHandleDownload_Success(t *testing.T) {
	p := newPipeline(allowAll())

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if res.Body.Status != "success" {
		t.Errorf("body status = %q, want success", res.Body.Status)
	}
	if res.Headers.Get("X-RateLimit-Limit") == "" {
		t.Error("success response should carry quota telemetry headers")
	}
	if p.upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", p.upstream.calls)
	}
	if p.cache.sets != 1 {
		t.Errorf("cache writes = %d, want 1", p.cache.sets)
	}
	if p.rewriter.calls != 0 {
		t.Error("non-youtube platform should not be rewritten")
	}
}

// A second request for the same URL within TTL must not reach the upstream.
func TestHandleDownload_CacheHitSkipsUpstream(t *testing.T) {
	p := newPipeline(allowAll())
	ctx := context.Background()

	first := p.svc.HandleDownload(ctx, httpRequest(), downloadRequest())
	second := p.svc.HandleDownload(ctx, httpRequest(), downloadRequest())

	if first.Status != http.StatusOK || second.Status != http.StatusOK {
		t.Fatalf("statuses = %d, %d, want 200 both", first.Status, second.Status)
	}
	if p.upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 across both requests", p.upstream.calls)
	}

	a, _ := json.Marshal(first.Body)
	b, _ := json.Marshal(second.Body)
	if string(a) != string(b) {
		t.Error("cached response should be identical to the first")
	}
}

func TestHandleDownload_NormalizesBeforeCacheAndUpstream(t *testing.T) {
	p := newPipeline(allowAll())
	req := &types.DownloadRequest{URL: "https://youtu.be/abc123?t=5", Platform: "youtube"}

	p.svc.HandleDownload(context.Background(), httpRequest(), req)

	want := "https://www.youtube.com/watch?v=abc123"
	if p.upstream.lastURL != want {
		t.Errorf("upstream url = %q, want %q", p.upstream.lastURL, want)
	}
	if _, ok := p.cache.entries[want]; !ok {
		t.Error("cache should be keyed by the normalized url")
	}
}

func TestHandleDownload_YouTubeGetsRewritten(t *testing.T) {
	p := newPipeline(allowAll())
	req := &types.DownloadRequest{URL: "https://www.youtube.com/watch?v=abc", Platform: "youtube"}

	p.svc.HandleDownload(context.Background(), httpRequest(), req)

	if p.rewriter.calls != 1 {
		t.Errorf("rewriter calls = %d, want 1", p.rewriter.calls)
	}
}

func TestHandleDownload_BaselineLimitRejects(t *testing.T) {
	p := newPipeline(allowAll())
	p.limiter.reject[ratelimit.PolicyProxy] = true

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", res.Status)
	}
	if p.bots.calls != 0 || p.upstream.calls != 0 {
		t.Error("rejection must short-circuit all later stages")
	}
}

func TestHandleDownload_BotBurstRejects(t *testing.T) {
	p := newPipeline(allowAll())
	p.bots.isBot = true

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", res.Status)
	}
	if p.upstream.calls != 0 {
		t.Error("bot rejection must happen before any upstream work")
	}
}

func TestHandleDownload_ValidatorBlockRejects(t *testing.T) {
	p := newPipeline(types.ValidationResult{
		Valid:             false,
		RecommendedAction: types.ActionBlock,
		Reasons:           []string{"origin and referer mismatch"},
	})

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.Status)
	}
	if p.upstream.calls != 0 {
		t.Error("blocked request must not reach the upstream")
	}
}

func TestHandleDownload_BotAndOriginBlocksDiffer(t *testing.T) {
	bot := newPipeline(types.ValidationResult{
		Valid:             false,
		IsBot:             true,
		RecommendedAction: types.ActionBlock,
		Reasons:           []string{"bot user-agent: curl/"},
	})
	botRes := bot.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	origin := newPipeline(types.ValidationResult{
		Valid:             false,
		RecommendedAction: types.ActionBlock,
		Reasons:           []string{"origin and referer mismatch"},
	})
	originRes := origin.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if botRes.Status != http.StatusForbidden || originRes.Status != http.StatusForbidden {
		t.Fatalf("statuses = %d, %d, want 403 for both", botRes.Status, originRes.Status)
	}
	if botRes.Body.Message == originRes.Body.Message {
		t.Errorf("bot and origin rejections share message %q, want distinct bodies", botRes.Body.Message)
	}
}

func TestHandleDownload_StrictLimitApplied(t *testing.T) {
	p := newPipeline(types.ValidationResult{
		Valid:             false,
		RecommendedAction: types.ActionStrictLimit,
		Reasons:           []string{"referer missing"},
	})
	p.limiter.reject[ratelimit.PolicyProxyStrict] = true

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 from the strict policy", res.Status)
	}
	if len(p.limiter.calls) != 2 {
		t.Fatalf("limiter calls = %v, want baseline then strict", p.limiter.calls)
	}
	if p.limiter.calls[0] != ratelimit.PolicyProxy || p.limiter.calls[1] != ratelimit.PolicyProxyStrict {
		t.Errorf("limiter call order = %v", p.limiter.calls)
	}
}

func TestHandleDownload_LimiterOutageFailsOpen(t *testing.T) {
	p := newPipeline(allowAll())
	p.limiter.err = errors.New("store down")

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter is unavailable", res.Status)
	}
}

func TestHandleDownload_BotDetectorOutageFailsOpen(t *testing.T) {
	p := newPipeline(allowAll())
	p.bots.err = errors.New("store down")

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusOK {
		t.Errorf("status = %d, want 200 when bot detector is unavailable", res.Status)
	}
}

func TestHandleDownload_MissingFields(t *testing.T) {
	p := newPipeline(allowAll())

	res := p.svc.HandleDownload(context.Background(), httpRequest(), &types.DownloadRequest{URL: "", Platform: "youtube"})

	if res.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Status)
	}
	if p.upstream.calls != 0 {
		t.Error("invalid input must not reach the upstream")
	}
}

func TestHandleDownload_MissingConfig(t *testing.T) {
	p := newPipeline(allowAll())
	p.svc.cfg = &config.Config{}

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.Status)
	}
	if res.Body.Message != "Server configuration error" {
		t.Errorf("message = %q", res.Body.Message)
	}
	if p.upstream.calls != 0 {
		t.Error("config is checked before any upstream call")
	}
}

func TestHandleDownload_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no media is 404", upstream.ErrNoMedia, http.StatusNotFound},
		{"unreachable is 500", upstream.ErrUnreachable, http.StatusInternalServerError},
		{"logical error passes status through", &upstream.Error{StatusCode: http.StatusUnprocessableEntity, Message: "unsupported url"}, http.StatusUnprocessableEntity},
		{"upstream 403 passes through", &upstream.Error{StatusCode: http.StatusForbidden, Message: "forbidden"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(allowAll())
			p.upstream.err = tt.err

			res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

			if res.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", res.Status, tt.wantStatus)
			}
			if res.Body.Status != "error" {
				t.Errorf("body status = %q, want error", res.Body.Status)
			}
			if p.cache.sets != 0 {
				t.Error("failed requests must not be cached")
			}
		})
	}
}

func TestHandleDownload_UnrecognizedShapeIs500(t *testing.T) {
	p := newPipeline(allowAll())
	p.upstream.payload = json.RawMessage(`{"something":"else"}`)

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.Status)
	}
	if res.Body.Message != "Invalid API response format" {
		t.Errorf("message = %q", res.Body.Message)
	}
}

func TestHandleDownload_CacheWriteFailureStillSucceeds(t *testing.T) {
	p := newPipeline(allowAll())
	p.cache.setErr = errors.New("cache down")

	res := p.svc.HandleDownload(context.Background(), httpRequest(), downloadRequest())

	if res.Status != http.StatusOK {
		t.Errorf("status = %d, want 200 despite cache write failure", res.Status)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"first forwarded hop wins", "203.0.113.9, 10.0.0.1", "10.0.0.2:80", "203.0.113.9"},
		{"single forwarded value", "203.0.113.9", "10.0.0.2:80", "203.0.113.9"},
		{"falls back to remote addr", "", "203.0.113.9:51234", "203.0.113.9"},
		{"remote addr without port", "", "203.0.113.9", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/proxy", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
