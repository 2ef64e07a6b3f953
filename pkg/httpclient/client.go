// Package httpclient provides the outbound HTTP client with proxy support.
package httpclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fsmvid-proxy/pkg/config"
	"fsmvid-proxy/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// Client wraps http.Client with CDN-aware transport selection. Requests to
// the upstream media CDN hosts go through a browser-fingerprinted TLS client;
// everything else uses a pooled default client, optionally behind a global
// outbound proxy.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client
	cdnHosts      []string
	log           *logging.Logger
}

// ipv4DialContext forces IPv4-only connections. Some CDN edges publish AAAA
// records that are unreachable from our hosting provider.
func ipv4DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

// New creates the outbound client. cfg.CDNHosts selects which hosts get the
// browser TLS fingerprint; cfg.GlobalProxy, when set, routes the default
// client through a socks5 or http proxy.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		cdnHosts: cfg.CDNHosts,
		log:      log.WithComponent("httpclient"),
	}

	transport := &http.Transport{
		DialContext:           ipv4DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if cfg.GlobalProxy != "" {
		c.configureProxy(transport, cfg.GlobalProxy)
	}

	c.defaultClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.UpstreamTimeout,
	}
	c.utlsClient = &http.Client{
		Transport: newUTLSRoundTripper(),
		Timeout:   cfg.UpstreamTimeout,
	}

	return c
}

// configureProxy wires the transport through the given proxy URL. A malformed
// or unsupported proxy falls back to a direct connection with a logged error
// rather than failing startup.
func (c *Client) configureProxy(transport *http.Transport, proxyURL string) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsed.Scheme)
		return
	}

	c.log.Info("outbound traffic routed through proxy", "scheme", parsed.Scheme, "host", parsed.Host)
}

// Do executes an HTTP request, selecting the transport by target host.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.isCDNHost(req.URL.Hostname()) {
		c.log.Debug("using browser TLS fingerprint", "host", req.URL.Hostname())
		return c.utlsClient.Do(req)
	}
	return c.defaultClient.Do(req)
}

// isCDNHost reports whether the host is one of the media CDN hosts or a
// subdomain of one.
func (c *Client) isCDNHost(host string) bool {
	host = strings.ToLower(host)
	for _, cdn := range c.cdnHosts {
		cdn = strings.ToLower(cdn)
		if host == cdn || strings.HasSuffix(host, "."+cdn) {
			return true
		}
	}
	return false
}

// utlsRoundTripper implements http.RoundTripper with a Chrome TLS fingerprint
// and HTTP/2 support. The CDN's edge rejects Go's default ClientHello.
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{
			DisableCompression: false,
			AllowHTTP:          false,
		},
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr = addr + ":443"
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &utls.Config{
		ServerName: req.URL.Hostname(),
	}
	utlsConn := utls.UClient(conn, tlsConfig, utls.HelloChrome_120)

	if err := utlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2Conn.RoundTrip(req)
	}

	return t.doHTTP1Request(utlsConn, req)
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Close the connection together with the body.
	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// FilteredHeaders returns headers safe to forward to the CDN. Hop-by-hop and
// client-identifying headers are stripped.
func FilteredHeaders(headers http.Header) http.Header {
	filtered := make(http.Header)
	blockedHeaders := map[string]bool{
		"x-forwarded-for": true,
		"x-real-ip":       true,
		"forwarded":       true,
		"via":             true,
		"host":            true,
		"connection":      true,
		"accept-encoding": true,
	}

	for key, values := range headers {
		if !blockedHeaders[strings.ToLower(key)] {
			filtered[key] = values
		}
	}

	return filtered
}
