// Package validate classifies request trust from static headers alone.
// It catches non-browser clients that stay under rate and burst thresholds
// by calling the API directly instead of through the web UI.
package validate

import (
	"net/http"
	"net/url"
	"strings"

	"fsmvid-proxy/pkg/types"
)

// Known automation markers in User-Agent strings. Matching is substring,
// case-insensitive.
var botSignatures = []string{
	"bot",
	"spider",
	"crawl",
	"scrapy",
	"curl/",
	"wget/",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"okhttp",
	"java/",
	"libwww",
	"httpclient",
	"axios",
	"node-fetch",
	"postmanruntime",
	"headless",
}

// Validator inspects request headers against a list of origins the web UI is
// served from.
type Validator struct {
	allowedOrigins []string
}

// New creates a validator. allowedOrigins are hostnames; subdomains match.
func New(allowedOrigins []string) *Validator {
	return &Validator{allowedOrigins: allowedOrigins}
}

// Validate computes the trust classification for one request.
//
// Precedence: a bot-signature User-Agent is a hard gate regardless of other
// signals. Origin/referer anomalies are a soft gate that downgrades quota
// instead of blocking, so privacy-conscious browsers that strip the referer
// are not rejected outright. Only a present-and-wrong origin together with a
// present-and-wrong referer escalates to a block.
func (v *Validator) Validate(r *http.Request) *types.ValidationResult {
	res := &types.ValidationResult{Valid: true, RecommendedAction: types.ActionAllow}

	ua := strings.ToLower(strings.TrimSpace(r.Header.Get("User-Agent")))
	if ua == "" {
		res.IsBot = true
		res.Valid = false
		res.Reasons = append(res.Reasons, "missing user-agent")
		res.RecommendedAction = types.ActionBlock
		return res
	}
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			res.IsBot = true
			res.Valid = false
			res.Reasons = append(res.Reasons, "bot user-agent: "+sig)
			res.RecommendedAction = types.ActionBlock
			return res
		}
	}

	origin := r.Header.Get("Origin")
	referer := r.Header.Get("Referer")
	originWrong := origin != "" && !v.hostAllowed(origin)
	refererWrong := referer != "" && !v.hostAllowed(referer)

	if originWrong {
		res.Valid = false
		res.Reasons = append(res.Reasons, "origin not allowed: "+origin)
	}
	if refererWrong {
		res.Valid = false
		res.Reasons = append(res.Reasons, "referer not allowed: "+referer)
	}
	if origin == "" && referer == "" {
		res.Valid = false
		res.Reasons = append(res.Reasons, "missing origin and referer")
	}
	if r.Header.Get("Accept") == "" {
		res.Valid = false
		res.Reasons = append(res.Reasons, "missing accept header")
	}

	switch {
	case originWrong && refererWrong:
		res.RecommendedAction = types.ActionBlock
	case !res.Valid:
		res.RecommendedAction = types.ActionStrictLimit
	}
	return res
}

// hostAllowed reports whether the host of the given URL (or bare host) is one
// of the allowed origins or a subdomain of one.
func (v *Validator) hostAllowed(raw string) bool {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Host
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	host = strings.ToLower(host)

	for _, allowed := range v.allowedOrigins {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
