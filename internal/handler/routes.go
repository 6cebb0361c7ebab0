package handler

import (
	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/middleware"
)

// Routes bundles the handlers and the identity middleware mounted by
// RegisterRoutes.
type Routes struct {
	Gateway *GatewayHandler
	Health  *HealthHandler
	Auth    *AuthHandler
	Nodes   *NodesHandler

	// Identity resolves the caller and rejects anonymous requests.
	Identity echo.MiddlewareFunc
	// GatewayRequiresAuth puts Identity in front of the gateway routes.
	GatewayRequiresAuth bool
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/healthz", r.Health.Healthz)
	e.GET("/readyz", r.Health.Readyz)
	e.GET("/gateway/status", r.Health.Status)

	auth := e.Group("/auth")
	auth.POST("/login", r.Auth.Login)
	auth.POST("/logout", r.Auth.Logout)
	auth.POST("/register", r.Auth.Register)
	auth.GET("/whoami", r.Auth.Whoami, r.Identity)

	nodes := e.Group("/nodes", r.Identity, middleware.RequireDashboardUser())
	nodes.GET("", r.Nodes.List)
	nodes.POST("", r.Nodes.Create)
	nodes.POST("/:id/rotate-token", r.Nodes.RotateToken)
	nodes.DELETE("/:id", r.Nodes.Delete)

	var gw []echo.MiddlewareFunc
	if r.GatewayRequiresAuth {
		gw = append(gw, r.Identity)
	}
	for _, path := range []string{"/api", "/api.php"} {
		e.Any(path, r.Gateway.Handle, gw...)
		// Methods outside echo's Any set (PURGE, LOCK, ...) land here instead
		// of a 405, so they are forwarded as well.
		e.RouteNotFound(path, r.Gateway.Handle, gw...)
	}
}
