package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/api", func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderXRequestID, "req-1")
		return c.String(http.StatusBadGateway, "down")
	})

	req := httptest.NewRequest(http.MethodGet, "/api?endpoint=metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var rec1 map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec1); err != nil {
		t.Fatalf("unmarshal log record %q: %v", buf.String(), err)
	}
	if rec1["msg"] != "request" {
		t.Errorf("msg = %v, want request", rec1["msg"])
	}
	if rec1["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for a 5xx", rec1["level"])
	}
	if rec1["path"] != "/api" {
		t.Errorf("path = %v, want /api (no query string)", rec1["path"])
	}
	if rec1["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", rec1["request_id"])
	}
	if rec1["status"] != float64(http.StatusBadGateway) {
		t.Errorf("status = %v, want 502", rec1["status"])
	}
}
