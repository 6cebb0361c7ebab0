package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"fleet-gateway-go/internal/client"
	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/handler"
	"fleet-gateway-go/internal/identity"
	"fleet-gateway-go/internal/metrics"
	"fleet-gateway-go/internal/middleware"
	"fleet-gateway-go/internal/service"
	"fleet-gateway-go/internal/session"
	"fleet-gateway-go/internal/store"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Loaded before kong so env-backed flags see the file's values.
	envFile, err := config.LoadEnvFile(os.Getenv("ENV_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("fleet-gateway"),
		kong.Description("Operator dashboard gateway for the fleet monitoring API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newStore,
			newEcho,
			client.NewUpstreamClient,
			func(c *client.UpstreamClient) service.Upstream { return c },
			service.NewGateway,
			session.NewManager,
			func(s *store.Store) session.Store { return s },
			func(s *store.Store) identity.NodeStore { return s },
			identity.NewResolver,
			handler.NewGatewayHandler,
			func(s *store.Store) handler.Pinger { return s },
			handler.NewHealthHandler,
			func(s *store.Store) handler.UserStore { return s },
			func(m *session.Manager) handler.Sessions { return m },
			handler.NewAuthHandler,
			func(s *store.Store) handler.NodeStore { return s },
			handler.NewNodesHandler,
		),
		fx.Invoke(
			func(logger *slog.Logger) {
				if envFile != "" {
					logger.Info("loaded env file", "path", envFile)
				}
			},
			registerRoutes,
			registerMetrics,
			warnConfigPermissions,
			startJanitor,
			closeUpstream,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "path", cfg.Database.Path)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(logger)

	if cfg.Server.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	// Inbound timeouts to mitigate slow-client attacks. Responses are
	// buffered, so WriteTimeout only needs to cover the upstream timeout.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 15*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		limiterStore := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(limiterStore))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	gw *handler.GatewayHandler,
	health *handler.HealthHandler,
	auth *handler.AuthHandler,
	nodes *handler.NodesHandler,
	resolver *identity.Resolver,
	sessions *session.Manager,
	logger *slog.Logger,
) {
	handler.RegisterRoutes(e, handler.Routes{
		Gateway:             gw,
		Health:              health,
		Auth:                auth,
		Nodes:               nodes,
		Identity:            middleware.RequireIdentity(resolver, sessions),
		GatewayRequiresAuth: cfg.Gateway.RequireAuth,
	})
	if !cfg.Gateway.RequireAuth {
		logger.Warn("gateway accepts anonymous callers; set gateway.require_auth to restrict it")
	}
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startJanitor(lc fx.Lifecycle, s *store.Store, logger *slog.Logger) {
	j := session.NewJanitor(s, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			j.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			j.Stop()
			return nil
		},
	})
}

func closeUpstream(lc fx.Lifecycle, c *client.UpstreamClient) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			c.Close()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"upstream", cfg.Upstream.BaseURL,
				"require_auth", cfg.Gateway.RequireAuth,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
