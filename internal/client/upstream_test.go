package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/metrics"
)

func testConfig(timeout int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:     timeout,
			IdleConnections:    10,
			DNSCacheTTLSeconds: -1,
		},
	}
}

func newTestClient(t *testing.T, cfg *config.Config, m *metrics.Metrics) *UpstreamClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(cfg, logger, m)
	t.Cleanup(c.Close)
	return c
}

// counterValue returns the counter whose label values equal values, in order.
func counterValue(t *testing.T, m *metrics.Metrics, name string, values ...string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			labels := metric.GetLabel()
			if len(labels) != len(values) {
				continue
			}
			for i, lp := range labels {
				if lp.GetValue() != values[i] {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(10), nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", resp.ContentType)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"status":"ok"}`)
	}
}

func TestUpstreamClient_Do_SendsOnlyGivenHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(10), nil)

	h := http.Header{}
	h.Set("Accept", "application/json")
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL, h, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q, want application/json", got.Get("Accept"))
	}
	for _, name := range []string{"User-Agent", "Accept-Encoding"} {
		if v := got.Get(name); v != "" {
			t.Errorf("%s = %q, want it absent", name, v)
		}
	}
}

func TestUpstreamClient_Do_Body(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(10), nil)

	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, http.Header{}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("upstream body = %q, want %q", gotBody, `{"a":1}`)
	}
}

func TestUpstreamClient_Do_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"moved"`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, testConfig(10), nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/old", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != `"moved"` {
		t.Errorf("got %d %q, want 200 %q", resp.StatusCode, resp.Body, `"moved"`)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	m := metrics.New()
	c := newTestClient(t, testConfig(1), m)

	_, err := c.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if got := counterValue(t, m, "fleet_gateway_upstream_failures_total", "GET"); got != 1 {
		t.Errorf("upstream failures = %v, want 1", got)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, testConfig(30), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Do(ctx, http.MethodGet, srv.URL, http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Do() took %v, expected cancellation to abort promptly", time.Since(start))
	}
}

func TestUpstreamClient_Do_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, testConfig(1), nil)

	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "Timeout") && !strings.Contains(err.Error(), "deadline") {
		t.Errorf("error = %v, want a timeout", err)
	}
}

func TestUpstreamClient_Do_RecordsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(t, testConfig(10), m)

	resp, err := c.Do(context.Background(), http.MethodDelete, srv.URL, http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", resp.StatusCode)
	}
	if got := counterValue(t, m, "fleet_gateway_upstream_responses_total", "DELETE", "503"); got != 1 {
		t.Errorf("upstream responses{DELETE,503} = %v, want 1", got)
	}
}

func TestUpstreamClient_DNSCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := testConfig(10)
	cfg.Upstream.DNSCacheTTLSeconds = 60
	c := newTestClient(t, cfg, nil)
	if c.dns == nil {
		t.Fatal("expected DNS cache to be enabled")
	}

	// httptest listens on 127.0.0.1; route through "localhost" to exercise the resolver.
	url := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
	resp, err := c.Do(context.Background(), http.MethodGet, url, http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q, want ok", resp.Body)
	}
}
