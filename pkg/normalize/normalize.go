// Package normalize collapses platform-specific URL variants into one
// canonical form. The canonical URL is used both as the response cache key
// and as the payload submitted upstream, so semantically identical links
// (youtu.be/X, youtube.com/watch?v=X) share a single cache entry.
package normalize

import (
	"regexp"
	"strings"
)

var (
	youtubeShortsRe = regexp.MustCompile(`youtube\.com/shorts/([^?&#/]+)`)
	youtuBeRe       = regexp.MustCompile(`youtu\.be/([^?&#/]+)`)
	dailyShortRe    = regexp.MustCompile(`dai\.ly/([^?&#/]+)`)
	redditShortRe   = regexp.MustCompile(`redd\.it/([^?&#/]+)`)
	redditCommentRe = regexp.MustCompile(`reddit\.com/r/[^/]+/comments/([^?&#/]+)`)
)

// URL returns the canonical form of url for the given platform. Pure and
// deterministic: no I/O, first matching rule per platform wins, unsupported
// platforms pass through unchanged.
func URL(url, platform string) string {
	switch strings.ToLower(platform) {
	case "youtube":
		if m := youtubeShortsRe.FindStringSubmatch(url); m != nil {
			return "https://www.youtube.com/watch?v=" + m[1]
		}
		if m := youtuBeRe.FindStringSubmatch(url); m != nil {
			return "https://www.youtube.com/watch?v=" + m[1]
		}
	case "dailymotion":
		if m := dailyShortRe.FindStringSubmatch(url); m != nil {
			return "https://www.dailymotion.com/video/" + m[1]
		}
	case "tumblr":
		if strings.Contains(url, "/post/") {
			return stripSuffix(url)
		}
	case "snapchat":
		return stripSuffix(url)
	case "reddit":
		if m := redditShortRe.FindStringSubmatch(url); m != nil {
			return "https://www.reddit.com/comments/" + m[1]
		}
		if m := redditCommentRe.FindStringSubmatch(url); m != nil {
			return "https://www.reddit.com/comments/" + m[1]
		}
	}
	return url
}

// stripSuffix removes the query string and fragment from a URL.
func stripSuffix(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx >= 0 {
		return url[:idx]
	}
	return url
}
