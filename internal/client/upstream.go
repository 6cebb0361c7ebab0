// Package client provides the HTTP client for the upstream monitoring API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/metrics"
	"fleet-gateway-go/internal/model"
)

// maxRedirects bounds how many upstream redirects are followed.
const maxRedirects = 10

// UpstreamClient sends requests to the upstream monitoring API.
type UpstreamClient struct {
	httpClient *http.Client
	dns        *cachingDialer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, a
// DNS cache and an overall per-call timeout. The metrics parameter is
// optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	logger = logger.With("component", "upstream_client")

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Compression stays off so the transport never adds Accept-Encoding
		// on the caller's behalf.
		DisableCompression: true,
		DialContext:        dialer.DialContext,
	}

	var dns *cachingDialer
	if cfg.Upstream.DNSCacheTTLSeconds > 0 {
		dns = newCachingDialer(dialer, time.Duration(cfg.Upstream.DNSCacheTTLSeconds)*time.Second, logger)
		transport.DialContext = dns.DialContext
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		dns:     dns,
		logger:  logger,
		metrics: m,
	}
}

// Do executes one upstream call and buffers the full response body. The
// context controls the call's lifetime: when it is canceled (e.g. the
// caller disconnected) the upstream request is aborted. A nil body sends no
// request body.
func (c *UpstreamClient) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.UpstreamResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	// An empty value suppresses net/http's default User-Agent.
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "")
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	method = metrics.NormalizeMethod(req.Method)
	if err != nil {
		c.observe(method, start, 0)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, start, 0)
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	c.observe(method, start, resp.StatusCode)

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &model.UpstreamResponse{
		StatusCode:  status,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Close stops background DNS refreshes and drops idle connections.
func (c *UpstreamClient) Close() {
	if c.dns != nil {
		c.dns.Stop()
	}
	c.httpClient.CloseIdleConnections()
}

// observe records latency and, for completed calls, the status code.
func (c *UpstreamClient) observe(method string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status == 0 {
		c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
