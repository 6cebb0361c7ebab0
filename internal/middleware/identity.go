package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/identity"
	"fleet-gateway-go/internal/model"
)

// identityKey is the echo context key holding the resolved caller.
const identityKey = "caller_identity"

// SessionProvider yields the session view of a request.
type SessionProvider interface {
	For(r *http.Request) identity.SessionSource
}

// RequireIdentity resolves the caller (session first, then node bearer
// token) and rejects the request with 401 when neither is present. Backend
// failures are returned as plain errors so the central handler renders 500.
func RequireIdentity(resolver *identity.Resolver, sessions SessionProvider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id, err := resolver.Resolve(req.Context(), sessions.For(req), req.Header.Get(echo.HeaderAuthorization))
			if errors.Is(err, identity.ErrUnauthorized) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			if err != nil {
				return fmt.Errorf("resolve caller identity: %w", err)
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// RequireDashboardUser allows only session-authenticated operators. It must
// run after RequireIdentity.
func RequireDashboardUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			if _, isUser := id.(model.DashboardUser); !isUser {
				return echo.NewHTTPError(http.StatusForbidden, "Forbidden")
			}
			return next(c)
		}
	}
}

// IdentityFrom returns the caller stored by RequireIdentity.
func IdentityFrom(c echo.Context) (model.CallerIdentity, bool) {
	id, ok := c.Get(identityKey).(model.CallerIdentity)
	return id, ok
}
