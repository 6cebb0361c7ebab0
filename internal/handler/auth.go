package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/middleware"
	"fleet-gateway-go/internal/model"
	"fleet-gateway-go/internal/session"
	"fleet-gateway-go/internal/store"
)

// minPasswordLen is the shortest password accepted at registration.
const minPasswordLen = 8

// UserStore is the account persistence used by AuthHandler.
type UserStore interface {
	Authenticate(ctx context.Context, username, password string) (model.User, error)
	CreateUser(ctx context.Context, username, password, role string) (model.User, error)
	CreateFirstUser(ctx context.Context, username, password, role string) (model.User, error)
	UserByID(ctx context.Context, id int64) (model.User, error)
	CountUsers(ctx context.Context) (int, error)
	LogAuthEvent(ctx context.Context, ev store.AuthEvent) error
}

// Sessions issues and destroys dashboard sessions.
type Sessions interface {
	Issue(ctx context.Context, w http.ResponseWriter, userID int64) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, error)
}

// AuthHandler serves dashboard login, logout, registration and whoami.
type AuthHandler struct {
	users             UserStore
	sessions          Sessions
	allowRegistration bool
	logger            *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(users UserStore, sessions Sessions, cfg *config.Config, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:             users,
		sessions:          sessions,
		allowRegistration: cfg.Auth.AllowRegistration,
		logger:            logger.With("component", "auth_handler"),
	}
}

type credentials struct {
	Username  string `json:"username" form:"username"`
	Password  string `json:"password" form:"password"`
	Password2 string `json:"password2" form:"password2"`
}

type userResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Username and password required"})
	}

	ctx := c.Request().Context()
	u, err := h.users.Authenticate(ctx, username, in.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		h.audit(c, store.AuthEvent{Username: username, EventType: store.EventLogin, Message: "invalid credentials"})
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "Invalid username or password"})
	}
	if err != nil {
		return err
	}

	if err := h.sessions.Issue(ctx, c.Response(), u.ID); err != nil {
		return err
	}
	h.audit(c, store.AuthEvent{UserID: &u.ID, Username: u.Username, EventType: store.EventLogin, Success: true})
	h.logger.Info("user logged in", "user_id", u.ID)

	return c.JSON(http.StatusOK, userResponse{UserID: u.ID, Username: u.Username})
}

// Logout ends the caller's session. It always succeeds.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := h.sessions.Destroy(ctx, c.Response(), c.Request())
	switch {
	case errors.Is(err, session.ErrNoSession):
	case err != nil:
		h.logger.Warn("revoking session failed", "err", err)
	default:
		ev := store.AuthEvent{UserID: &userID, EventType: store.EventLogout, Success: true}
		if u, err := h.users.UserByID(ctx, userID); err == nil {
			ev.Username = u.Username
		}
		h.audit(c, ev)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Register creates a dashboard account. It is available when registration is
// enabled, or while no account exists so the first operator can sign up.
func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	if !h.allowRegistration {
		n, err := h.users.CountUsers(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return echo.ErrNotFound
		}
	}

	var in credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	username := strings.TrimSpace(in.Username)
	switch {
	case username == "" || in.Password == "":
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Username and password required"})
	case len(in.Password) < minPasswordLen:
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Password must be at least 8 characters"})
	case in.Password != in.Password2:
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Passwords do not match"})
	}

	create := h.users.CreateUser
	if !h.allowRegistration {
		create = h.users.CreateFirstUser
	}
	u, err := create(ctx, username, in.Password, store.DefaultRole)
	if errors.Is(err, store.ErrUsersExist) {
		return echo.ErrNotFound
	}
	if errors.Is(err, store.ErrDuplicate) {
		h.audit(c, store.AuthEvent{Username: username, EventType: store.EventRegister, Message: "username taken"})
		return c.JSON(http.StatusConflict, errorBody{Error: "Username already exists"})
	}
	if err != nil {
		return err
	}
	h.audit(c, store.AuthEvent{UserID: &u.ID, Username: u.Username, EventType: store.EventRegister, Success: true})
	h.logger.Info("user registered", "user_id", u.ID)

	return c.JSON(http.StatusCreated, userResponse{UserID: u.ID, Username: u.Username})
}

// Whoami reports the identity resolved for the request.
func (h *AuthHandler) Whoami(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	switch v := id.(type) {
	case model.DashboardUser:
		out := map[string]any{"kind": "user", "user_id": v.ID}
		u, err := h.users.UserByID(c.Request().Context(), v.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil {
			out["username"] = u.Username
		}
		return c.JSON(http.StatusOK, out)
	case model.MonitoredNode:
		return c.JSON(http.StatusOK, map[string]any{"kind": "node", "node_id": v.ID, "node_name": v.Name})
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
}

// audit records an auth event. Failures are logged, never surfaced.
func (h *AuthHandler) audit(c echo.Context, ev store.AuthEvent) {
	ev.IPAddress = c.RealIP()
	if err := h.users.LogAuthEvent(c.Request().Context(), ev); err != nil {
		h.logger.Warn("recording auth event failed", "event", ev.EventType, "err", err)
	}
}
