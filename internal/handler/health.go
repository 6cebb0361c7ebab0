package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// readyTimeout bounds the database ping behind /readyz.
const readyTimeout = 2 * time.Second

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	db      Pinger
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		version: v,
		db:      db,
		logger:  logger.With("component", "health_handler"),
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz reports whether the database answers.
func (h *HealthHandler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "db_unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"upstream_url":  h.cfg.Upstream.BaseURL,
		"routing_param": h.cfg.Gateway.RoutingParam,
		"require_auth":  h.cfg.Gateway.RequireAuth,
	})
}
