// Package transform converts the upstream API's response shapes into the
// canonical media response. Shape detection is an explicit tagged-union
// decode: the payload is matched against an ordered list of known schemas
// and transformation dispatches on the resulting variant, so "which shape is
// this" stays auditable instead of being scattered truthiness checks.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"fsmvid-proxy/pkg/types"
)

// ErrUnrecognized means a 2xx payload matched none of the known shapes.
var ErrUnrecognized = errors.New("invalid API response format")

// Variant identifies which upstream schema a payload matched.
type Variant int

const (
	VariantUnrecognized Variant = iota
	VariantMedias
	VariantFormats
	VariantDownloadOptions
	VariantStreamingData
	VariantLinks
)

func (v Variant) String() string {
	switch v {
	case VariantMedias:
		return "medias"
	case VariantFormats:
		return "formats"
	case VariantDownloadOptions:
		return "downloadOptions"
	case VariantStreamingData:
		return "streamingData"
	case VariantLinks:
		return "links"
	default:
		return "unrecognized"
	}
}

// Payload is a decoded upstream response tagged with its matched variant.
type Payload struct {
	Variant Variant
	Title   string

	medias          any // []types.MediaEntry or map[string]types.MediaEntry
	formats         map[string]map[string]rawFormat
	downloadOptions []downloadOption
	streaming       *streamingData
	links           map[string]json.RawMessage
}

type rawFormat struct {
	URL  string `json:"url"`
	Size any    `json:"size"`
}

type downloadOption struct {
	Format  string `json:"format"`
	Type    string `json:"type"`
	Quality string `json:"quality"`
	Label   string `json:"label"`
	URL     string `json:"url"`
	Link    string `json:"link"`
	Size    any    `json:"size"`
}

type streamingData struct {
	Formats         []streamEntry `json:"formats"`
	AdaptiveFormats []streamEntry `json:"adaptiveFormats"`
}

type streamEntry struct {
	URL           string `json:"url"`
	Quality       string `json:"quality"`
	QualityLabel  string `json:"qualityLabel"`
	MimeType      string `json:"mimeType"`
	AudioQuality  string `json:"audioQuality"`
	ContentLength string `json:"contentLength"`
}

// Detect matches the payload against the known schemas in order and returns
// the first match as a tagged variant.
func Detect(raw json.RawMessage) *Payload {
	var probe struct {
		Title           string          `json:"title"`
		Medias          json.RawMessage `json:"medias"`
		Formats         json.RawMessage `json:"formats"`
		DownloadOptions json.RawMessage `json:"downloadOptions"`
		StreamingData   json.RawMessage `json:"streamingData"`
		Links           json.RawMessage `json:"links"`
		URLs            json.RawMessage `json:"urls"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return &Payload{Variant: VariantUnrecognized}
	}

	p := &Payload{Title: probe.Title}

	if medias, ok := decodeMedias(probe.Medias); ok {
		p.Variant = VariantMedias
		p.medias = medias
		return p
	}

	if len(probe.Formats) > 0 {
		var formats map[string]map[string]rawFormat
		if json.Unmarshal(probe.Formats, &formats) == nil && len(formats) > 0 {
			p.Variant = VariantFormats
			p.formats = formats
			return p
		}
	}

	if len(probe.DownloadOptions) > 0 {
		var opts []downloadOption
		if json.Unmarshal(probe.DownloadOptions, &opts) == nil && len(opts) > 0 {
			p.Variant = VariantDownloadOptions
			p.downloadOptions = opts
			return p
		}
	}

	if len(probe.StreamingData) > 0 {
		var sd streamingData
		if json.Unmarshal(probe.StreamingData, &sd) == nil &&
			(len(sd.Formats) > 0 || len(sd.AdaptiveFormats) > 0) {
			p.Variant = VariantStreamingData
			p.streaming = &sd
			return p
		}
	}

	linksRaw := probe.Links
	if len(linksRaw) == 0 {
		linksRaw = probe.URLs
	}
	if len(linksRaw) > 0 {
		var links map[string]json.RawMessage
		if json.Unmarshal(linksRaw, &links) == nil && len(links) > 0 {
			p.Variant = VariantLinks
			p.links = links
			return p
		}
	}

	p.Variant = VariantUnrecognized
	return p
}

// decodeMedias accepts a non-empty array or a non-empty object. An empty
// medias array does not count as a match; legacy shapes get their chance.
func decodeMedias(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var asList []types.MediaEntry
	if json.Unmarshal(raw, &asList) == nil {
		if len(asList) == 0 {
			return nil, false
		}
		return asList, true
	}

	var asMap map[string]types.MediaEntry
	if json.Unmarshal(raw, &asMap) == nil && len(asMap) > 0 {
		return asMap, true
	}
	return nil, false
}

// Canonical converts a detected payload into the canonical response.
// platform steers the links-map bucketing, which differs for YouTube.
func Canonical(raw json.RawMessage, platform string) (*types.MediaResponse, error) {
	p := Detect(raw)

	switch p.Variant {
	case VariantMedias:
		return &types.MediaResponse{Status: "success", Title: p.Title, Medias: p.medias}, nil

	case VariantFormats:
		return &types.MediaResponse{Status: "success", Title: p.Title, Formats: convertFormats(p.formats)}, nil

	case VariantDownloadOptions:
		return &types.MediaResponse{Status: "success", Title: p.Title, Formats: groupDownloadOptions(p.downloadOptions)}, nil

	case VariantStreamingData:
		return &types.MediaResponse{Status: "success", Title: p.Title, Formats: bucketStreamingData(p.streaming)}, nil

	case VariantLinks:
		return &types.MediaResponse{Status: "success", Title: p.Title, Formats: bucketLinks(p.links, platform)}, nil

	default:
		return nil, ErrUnrecognized
	}
}

// convertFormats passes a native formats object through, normalizing sizes.
func convertFormats(in map[string]map[string]rawFormat) types.FormatGroups {
	out := make(types.FormatGroups, len(in))
	for formatType, qualities := range in {
		group := make(map[string]types.FormatEntry, len(qualities))
		for quality, f := range qualities {
			group[quality] = types.FormatEntry{URL: f.URL, Size: sizeString(f.Size)}
		}
		out[formatType] = group
	}
	return out
}

// groupDownloadOptions groups a flat option list by format then quality.
func groupDownloadOptions(opts []downloadOption) types.FormatGroups {
	out := make(types.FormatGroups)
	for _, opt := range opts {
		format := firstNonEmpty(opt.Format, opt.Type, "mp4")
		quality := firstNonEmpty(opt.Quality, opt.Label, "default")
		url := firstNonEmpty(opt.URL, opt.Link)
		if url == "" {
			continue
		}
		if out[format] == nil {
			out[format] = make(map[string]types.FormatEntry)
		}
		out[format][quality] = types.FormatEntry{URL: url, Size: sizeString(opt.Size)}
	}
	return out
}

// bucketStreamingData splits YouTube streamingData entries into mp4 (video)
// and mp3 (audio) buckets keyed by quality label.
func bucketStreamingData(sd *streamingData) types.FormatGroups {
	out := types.FormatGroups{}

	add := func(e streamEntry) {
		if e.URL == "" {
			return
		}
		audio := e.AudioQuality != "" || strings.Contains(strings.ToLower(e.MimeType), "audio")

		bucket := "mp4"
		quality := firstNonEmpty(e.QualityLabel, e.Quality, "default")
		if audio {
			bucket = "mp3"
			quality = firstNonEmpty(e.AudioQuality, e.Quality, "default")
		}

		if out[bucket] == nil {
			out[bucket] = make(map[string]types.FormatEntry)
		}
		if _, exists := out[bucket][quality]; exists {
			return
		}
		out[bucket][quality] = types.FormatEntry{URL: e.URL, Size: contentLengthMB(e.ContentLength)}
	}

	for _, e := range sd.Formats {
		add(e)
	}
	for _, e := range sd.AdaptiveFormats {
		add(e)
	}
	return out
}

// bucketLinks converts a quality-keyed link map. For YouTube, quality keys
// containing "audio" land in mp3; for every other platform everything is mp4.
func bucketLinks(links map[string]json.RawMessage, platform string) types.FormatGroups {
	out := types.FormatGroups{}
	youtube := strings.EqualFold(platform, "youtube")

	for quality, raw := range links {
		url, size := decodeLink(raw)
		if url == "" {
			continue
		}

		bucket := "mp4"
		if youtube && strings.Contains(strings.ToLower(quality), "audio") {
			bucket = "mp3"
		}
		if out[bucket] == nil {
			out[bucket] = make(map[string]types.FormatEntry)
		}
		out[bucket][quality] = types.FormatEntry{URL: url, Size: size}
	}
	return out
}

// decodeLink accepts either a bare URL string or a {url, size} object.
func decodeLink(raw json.RawMessage) (string, string) {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString, "Unknown"
	}

	var asObj struct {
		URL  string `json:"url"`
		Size any    `json:"size"`
	}
	if json.Unmarshal(raw, &asObj) == nil {
		return asObj.URL, sizeString(asObj.Size)
	}
	return "", "Unknown"
}

// contentLengthMB converts a byte count into a whole-megabyte label.
// A zero or unparseable length is "Unknown", never "0 MB".
func contentLengthMB(contentLength string) string {
	n, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || n <= 0 {
		return "Unknown"
	}
	mb := int64(math.Round(float64(n) / (1024 * 1024)))
	if mb <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d MB", mb)
}

// sizeString normalizes an upstream size field. Falsy values fall back to
// "Unknown" rather than rendering as a zero.
func sizeString(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" || val == "0" {
			return "Unknown"
		}
		return val
	case float64:
		if val <= 0 {
			return "Unknown"
		}
		return fmt.Sprintf("%d MB", int64(math.Round(val)))
	default:
		return "Unknown"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
