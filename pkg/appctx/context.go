// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fsmvid-proxy/pkg/config"
	"fsmvid-proxy/pkg/interfaces"
	"fsmvid-proxy/pkg/logging"
	"fsmvid-proxy/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config       *config.Config
	Log          *logging.Logger
	ProxyService *services.ProxyService
	Downloads    interfaces.DownloadStore
	HTTPClient   interfaces.HTTPClient
	BaseURL      string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: cfg.BaseURL,
	}
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}

// WithDownloads sets the download-URL store.
func (c *Context) WithDownloads(s interfaces.DownloadStore) *Context {
	c.Downloads = s
	return c
}

// WithHTTPClient sets the outbound HTTP client.
func (c *Context) WithHTTPClient(hc interfaces.HTTPClient) *Context {
	c.HTTPClient = hc
	return c
}
