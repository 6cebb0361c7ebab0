package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/client"
	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/identity"
	"fleet-gateway-go/internal/middleware"
	"fleet-gateway-go/internal/service"
	"fleet-gateway-go/internal/session"
	"fleet-gateway-go/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// upstreamCall is one request seen by the fake monitoring API.
type upstreamCall struct {
	Method string
	URI    string
	Header http.Header
	Body   string
}

type fakeUpstream struct {
	*httptest.Server

	mu    sync.Mutex
	calls []upstreamCall
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, upstreamCall{Method: r.Method, URI: r.URL.RequestURI(), Header: r.Header.Clone(), Body: string(b)})
		f.mu.Unlock()

		switch r.URL.Path {
		case "/api/missing":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"not found"}`))
		case "/api/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(`{"cpu":12.5}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) Calls() []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstreamCall(nil), f.calls...)
}

// testEnv is a fully wired gateway backed by a temporary SQLite database.
type testEnv struct {
	e        *echo.Echo
	cfg      *config.Config
	store    *store.Store
	upstream *fakeUpstream
}

type envOption func(*config.Config)

func withRequireAuth(c *config.Config) { c.Gateway.RequireAuth = true }

func withRegistration(c *config.Config) { c.Auth.AllowRegistration = true }

func withBaseURL(u string) envOption {
	return func(c *config.Config) { c.Upstream.BaseURL = u }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	up := newFakeUpstream(t)

	cfg := &config.Config{
		Server:   config.ServerConfig{BodyMaxBytes: 1024},
		Upstream: config.UpstreamConfig{BaseURL: up.URL + "/api", TimeoutSeconds: 5, IdleConnections: 4, DNSCacheTTLSeconds: -1},
		Gateway:  config.GatewayConfig{RoutingParam: "endpoint", ResponseContentType: config.ContentTypeJSON},
		Session:  config.SessionConfig{Secret: testSecret, CookieName: "fleet_session", TTLHours: 1},
	}
	for _, o := range opts {
		o(cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	t.Cleanup(uc.Close)

	sessions := session.NewManager(cfg, st, logger)
	resolver := identity.NewResolver(st, logger, nil)

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(logger)
	RegisterRoutes(e, Routes{
		Gateway:             NewGatewayHandler(service.NewGateway(uc, cfg, logger), cfg, logger),
		Health:              NewHealthHandler(cfg, "test", st, logger),
		Auth:                NewAuthHandler(st, sessions, cfg, logger),
		Nodes:               NewNodesHandler(st, logger),
		Identity:            middleware.RequireIdentity(resolver, sessions),
		GatewayRequiresAuth: cfg.Gateway.RequireAuth,
	})

	return &testEnv{e: e, cfg: cfg, store: st, upstream: up}
}

// do serves one request. body may be nil, a string, or a value encoded as JSON.
func (env *testEnv) do(t *testing.T, method, target string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	isJSON := false
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
		isJSON = true
	}
	req := httptest.NewRequest(method, target, r)
	if isJSON {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, m := range mods {
		m(req)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func withCookies(cookies []*http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withHeader(k, v string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

// login creates an operator account directly in the store and signs in.
func (env *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	if _, err := env.store.UserByUsername(t.Context(), "admin"); err != nil {
		if _, err := env.store.CreateUser(t.Context(), "admin", "s3cret-pass", ""); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "admin", "password": "s3cret-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login set no cookie")
	}
	return cookies
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body
}
