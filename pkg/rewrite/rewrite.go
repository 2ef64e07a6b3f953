// Package rewrite replaces short-lived upstream CDN media URLs with stable
// proxied download paths, persisting the mapping so the bytes can still be
// served after the signed CDN link expires.
package rewrite

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"fsmvid-proxy/pkg/interfaces"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/types"
)

// DownloadPathPrefix is the route the proxied paths resolve under.
const DownloadPathPrefix = "/api/download/"

const maxTitleLength = 50

var unsafeTitleChars = regexp.MustCompile(`[^a-z0-9]+`)

// KeyFunc derives the store key for an original media URL.
type KeyFunc func(mediaURL string) string

// Rewriter rewrites canonical responses in place of upstream CDN links.
type Rewriter struct {
	store    interfaces.DownloadStore
	keyFn    KeyFunc
	cdnHosts []string
	log      *logging.Logger
}

// New creates a rewriter. cdnHosts are the upstream CDN hostnames whose URLs
// get rewritten; subdomains match.
func New(store interfaces.DownloadStore, keyFn KeyFunc, cdnHosts []string, log *logging.Logger) *Rewriter {
	return &Rewriter{
		store:    store,
		keyFn:    keyFn,
		cdnHosts: cdnHosts,
		log:      log.WithComponent("rewrite"),
	}
}

// Rewrite returns a copy of resp with every CDN media URL replaced by a
// proxied path, the original kept under originalUrl for diagnostics.
//
// Rewriting is an enhancement, not a correctness requirement: any failure
// (store write, malformed entry) returns the original response unmodified.
// Entries are processed concurrently; output structure and key order follow
// the source.
func (r *Rewriter) Rewrite(ctx context.Context, resp *types.MediaResponse, originalVideoURL string) *types.MediaResponse {
	rewritten, err := r.rewrite(ctx, resp, originalVideoURL)
	if err != nil {
		r.log.Warn("url rewrite failed, returning original response",
			"video_url", originalVideoURL, "error", err)
		return resp
	}
	return rewritten
}

func (r *Rewriter) rewrite(ctx context.Context, resp *types.MediaResponse, originalVideoURL string) (*types.MediaResponse, error) {
	out := *resp

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	if len(resp.Formats) > 0 {
		type formatJob struct {
			formatType, quality string
			entry               types.FormatEntry
		}

		// Snapshot the work before spawning: the goroutines assign into the
		// same inner maps, so no map may still be under iteration when the
		// first write lands.
		formats := make(types.FormatGroups, len(resp.Formats))
		var jobs []formatJob
		for formatType, qualities := range resp.Formats {
			group := make(map[string]types.FormatEntry, len(qualities))
			for quality, entry := range qualities {
				group[quality] = entry
				if r.isCDNURL(entry.URL) {
					jobs = append(jobs, formatJob{formatType, quality, entry})
				}
			}
			formats[formatType] = group
		}

		for _, job := range jobs {
			wg.Add(1)
			go func(job formatJob) {
				defer wg.Done()
				proxied, err := r.persist(ctx, job.entry.URL, resp.Title, job.quality, job.formatType, originalVideoURL)
				if err != nil {
					fail(err)
					return
				}
				mu.Lock()
				formats[job.formatType][job.quality] = types.FormatEntry{
					URL:         proxied,
					Size:        job.entry.Size,
					OriginalURL: job.entry.URL,
				}
				mu.Unlock()
			}(job)
		}
		out.Formats = formats
	}

	switch medias := resp.Medias.(type) {
	case []types.MediaEntry:
		copied := make([]types.MediaEntry, len(medias))
		for i, entry := range medias {
			copied[i] = cloneEntry(entry)
		}
		for i := range copied {
			if mediaURL, _ := copied[i]["url"].(string); r.isCDNURL(mediaURL) {
				wg.Add(1)
				go func(entry types.MediaEntry, mediaURL string) {
					defer wg.Done()
					if err := r.rewriteMediaEntry(ctx, entry, mediaURL, resp.Title, originalVideoURL); err != nil {
						fail(err)
					}
				}(copied[i], mediaURL)
			}
		}
		out.Medias = copied
	case map[string]types.MediaEntry:
		copied := make(map[string]types.MediaEntry, len(medias))
		for k, entry := range medias {
			copied[k] = cloneEntry(entry)
		}
		for k := range copied {
			if mediaURL, _ := copied[k]["url"].(string); r.isCDNURL(mediaURL) {
				wg.Add(1)
				go func(entry types.MediaEntry, mediaURL string) {
					defer wg.Done()
					if err := r.rewriteMediaEntry(ctx, entry, mediaURL, resp.Title, originalVideoURL); err != nil {
						fail(err)
					}
				}(copied[k], mediaURL)
			}
		}
		out.Medias = copied
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return &out, nil
}

// rewriteMediaEntry persists and swaps the url of one media entry in place.
func (r *Rewriter) rewriteMediaEntry(ctx context.Context, entry types.MediaEntry, mediaURL, title, originalVideoURL string) error {
	quality := entryQuality(entry)
	format := entryFormat(entry)

	proxied, err := r.persist(ctx, mediaURL, title, quality, format, originalVideoURL)
	if err != nil {
		return err
	}
	entry["originalUrl"] = mediaURL
	entry["url"] = proxied
	return nil
}

// persist stores the mapping and returns the proxied path.
func (r *Rewriter) persist(ctx context.Context, mediaURL, title, quality, format, originalVideoURL string) (string, error) {
	key := r.keyFn(mediaURL)
	proxied := DownloadPathPrefix + key

	entry := &types.DownloadEntry{
		Key:              key,
		ProxiedPath:      proxied,
		Filename:         Filename(title, quality, format),
		Quality:          quality,
		Format:           format,
		Title:            title,
		OriginalVideoURL: originalVideoURL,
		OriginalMediaURL: mediaURL,
	}
	if err := r.store.Put(ctx, entry); err != nil {
		return "", fmt.Errorf("persist download entry: %w", err)
	}

	r.log.Debug("rewrote media url", "key", key, "quality", quality, "format", format)
	return proxied, nil
}

// isCDNURL reports whether the URL points at one of the upstream CDN hosts.
func (r *Rewriter) isCDNURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, cdn := range r.cdnHosts {
		cdn = strings.ToLower(cdn)
		if host == cdn || strings.HasSuffix(host, "."+cdn) {
			return true
		}
	}
	return false
}

// Filename builds a human-readable download filename:
// {sanitized title}_{quality}.{format}.
func Filename(title, quality, format string) string {
	name := strings.ToLower(strings.TrimSpace(title))
	name = unsafeTitleChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "video"
	}
	if len(name) > maxTitleLength {
		name = name[:maxTitleLength]
		name = strings.TrimRight(name, "_")
	}
	if quality != "" {
		name = name + "_" + strings.ToLower(quality)
	}
	if format == "" {
		format = "mp4"
	}
	return name + "." + strings.ToLower(format)
}

// entryQuality prefers label, then quality, then height with a "p" suffix.
func entryQuality(entry types.MediaEntry) string {
	if label, _ := entry["label"].(string); label != "" {
		return label
	}
	if quality, _ := entry["quality"].(string); quality != "" {
		return quality
	}
	switch h := entry["height"].(type) {
	case float64:
		if h > 0 {
			return fmt.Sprintf("%dp", int(h))
		}
	case string:
		if h != "" {
			return h + "p"
		}
	}
	return "default"
}

// entryFormat prefers ext, then extension, defaulting to mp4.
func entryFormat(entry types.MediaEntry) string {
	if ext, _ := entry["ext"].(string); ext != "" {
		return ext
	}
	if ext, _ := entry["extension"].(string); ext != "" {
		return ext
	}
	return "mp4"
}

func cloneEntry(entry types.MediaEntry) types.MediaEntry {
	out := make(types.MediaEntry, len(entry))
	for k, v := range entry {
		out[k] = v
	}
	return out
}
