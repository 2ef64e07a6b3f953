// Package api provides HTTP handlers for the download proxy API.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"fsmvid-proxy/pkg/appctx"
	"fsmvid-proxy/pkg/httpclient"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/types"
)

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{ctx: ctx}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/proxy", h.handleProxy)
	mux.HandleFunc("GET /api/download/{key}", h.handleDownload)
	mux.HandleFunc("GET /api/info", h.handleInfo)
}

// handleProxy runs a download request through the pipeline.
func (h *Handlers) handleProxy(w http.ResponseWriter, r *http.Request) {
	var req types.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, types.ErrorResponse("Invalid request body", nil))
		return
	}

	res := h.ctx.ProxyService.HandleDownload(r.Context(), r, &req)

	for key, values := range res.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	h.writeJSON(w, res.Status, res.Body)
}

// handleDownload resolves a proxied path minted by the rewriter and streams
// the original CDN bytes with a download filename.
func (h *Handlers) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	log := logging.FromContext(r.Context())

	entry, err := h.ctx.Downloads.Get(r.Context(), key)
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, types.ErrorResponse("Download link not found or expired.", nil))
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, entry.OriginalMediaURL, nil)
	if err != nil {
		log.Error("bad media url in download entry", "key", key, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, types.ErrorResponse("Download failed.", nil))
		return
	}
	// Range and other conditional headers pass through so seeking works.
	req.Header = httpclient.FilteredHeaders(r.Header)

	resp, err := h.ctx.HTTPClient.Do(req)
	if err != nil {
		log.Error("media fetch failed", "key", key, "error", err)
		h.writeJSON(w, http.StatusBadGateway, types.ErrorResponse("Failed to fetch media from source.", nil))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn("media source rejected fetch", "key", key, "status", resp.StatusCode)
		h.writeJSON(w, http.StatusBadGateway, types.ErrorResponse("The media source is no longer available.", nil))
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Filename))

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug("download stream interrupted", "key", key, "error", err)
	}
}

// handleInfo returns server status as JSON.
func (h *Handlers) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"version": "1.0.0",
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
