// Package upstream calls the third-party extraction API with bounded retries.
// Transport failures and the upstream's transient "no medias found" response
// are retried on a fixed delay; every other upstream error is permanent.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fsmvid-proxy/pkg/interfaces"
	"fsmvid-proxy/pkg/logging"
)

// Client is the extraction API client.
type Client struct {
	apiURL  string
	apiKey  string
	http    interfaces.HTTPClient
	retry   RetryPolicy
	limiter *rate.Limiter
	log     *logging.Logger
}

// Options configures a Client.
type Options struct {
	APIURL   string
	APIKey   string
	Attempts int
	Delay    time.Duration
	// Outbound ceiling on extraction calls across all in-flight requests.
	// Zero RPS disables throttling.
	RPS   float64
	Burst int
}

// New creates an upstream client.
func New(httpClient interfaces.HTTPClient, opts Options, log *logging.Logger) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = 1500 * time.Millisecond
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RPS)
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		apiURL:  opts.APIURL,
		apiKey:  opts.APIKey,
		http:    httpClient,
		retry:   RetryPolicy{MaxAttempts: opts.Attempts, Delay: opts.Delay},
		limiter: limiter,
		log:     log.WithComponent("upstream"),
	}
}

// attemptError wraps a transport failure so the retry predicate can tell it
// apart from upstream-reported errors.
type attemptError struct {
	err error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

type extractResult struct {
	payload json.RawMessage
	status  int
}

// Extract submits a normalized URL and returns the raw upstream payload with
// the HTTP status it arrived with.
func (c *Client) Extract(ctx context.Context, normalizedURL string) (json.RawMessage, int, error) {
	attempt := 0
	log := c.log.WithURL(normalizedURL)

	res, err := retry(ctx, c.retry, func(ctx context.Context) (extractResult, error) {
		attempt++
		result, err := c.callOnce(ctx, normalizedURL)
		if err != nil {
			log.WithError(err).Debug("upstream attempt failed", "attempt", attempt)
			return extractResult{}, err
		}
		log.Debug("upstream attempt succeeded", "attempt", attempt)
		return result, nil
	}, func(err error) bool {
		// The "no media" logical error is the one retryable upstream
		// response: it is a transient race in the upstream's own extraction
		// pipeline. Transport failures are also retried. Everything else is
		// permanent.
		if err == ErrNoMedia {
			return true
		}
		var ae *attemptError
		return errors.As(err, &ae)
	})

	if err != nil {
		if err == ErrNoMedia {
			return nil, http.StatusNotFound, ErrNoMedia
		}
		var ae *attemptError
		if errors.As(err, &ae) {
			return nil, http.StatusInternalServerError, fmt.Errorf("%w: %v", ErrUnreachable, ae.err)
		}
		return nil, http.StatusInternalServerError, err
	}

	return res.payload, res.status, nil
}

// callOnce performs a single extraction request.
func (c *Client) callOnce(ctx context.Context, normalizedURL string) (extractResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return extractResult{}, &attemptError{err}
		}
	}

	body, err := json.Marshal(map[string]string{"url": normalizedURL})
	if err != nil {
		return extractResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return extractResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return extractResult{}, &attemptError{err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return extractResult{}, &attemptError{err}
	}

	return c.classify(payload, resp.StatusCode)
}

// classify decides whether a response is a success, the retryable "no media"
// case, or a permanent upstream error.
func (c *Client) classify(payload []byte, status int) (extractResult, error) {
	var probe struct {
		Error   any    `json:"error"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	// A non-JSON body from a 2xx is left for the transformer to reject.
	_ = json.Unmarshal(payload, &probe)

	message := probe.Message

	if status < 200 || status >= 300 {
		return extractResult{}, &Error{StatusCode: status, Message: message, Details: payload}
	}

	if isNoMedia(message) {
		return extractResult{}, ErrNoMedia
	}

	if truthy(probe.Error) || (probe.Status != "" && probe.Status != "success") {
		return extractResult{}, &Error{StatusCode: http.StatusUnprocessableEntity, Message: message, Details: payload}
	}

	return extractResult{payload: payload, status: status}, nil
}

// isNoMedia matches the upstream's "no media" wording regardless of platform.
func isNoMedia(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "no media") || strings.Contains(m, "no medias")
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	case float64:
		return val != 0
	default:
		return true
	}
}
