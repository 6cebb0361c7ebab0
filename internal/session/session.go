// Package session issues and validates dashboard session cookies. The cookie
// is an HS256-signed JWT naming the user and a server-side session row, so a
// session can be revoked before it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fleet-gateway-go/internal/config"
	"fleet-gateway-go/internal/identity"
)

const issuer = "fleet-gateway"

// ErrNoSession is returned by Destroy when the request carries no valid session.
var ErrNoSession = errors.New("no active session")

// Store persists session rows.
type Store interface {
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time) error
	SessionUser(ctx context.Context, id string) (int64, bool, error)
	RevokeSession(ctx context.Context, id string) error
}

// Manager issues, validates and destroys session cookies.
type Manager struct {
	store      Store
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager creates a Manager from the [session] config section.
func NewManager(cfg *config.Config, st Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:      st,
		secret:     []byte(cfg.Session.Secret),
		cookieName: cfg.Session.CookieName,
		ttl:        time.Duration(cfg.Session.TTLHours) * time.Hour,
		secure:     cfg.Session.SecureCookie,
		now:        time.Now,
		logger:     logger.With("component", "session"),
	}
}

// Issue starts a session for userID and sets the cookie on w.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, userID int64) error {
	now := m.now()
	expires := now.Add(m.ttl)
	id := uuid.NewString()

	if err := m.store.CreateSession(ctx, id, userID, expires); err != nil {
		return fmt.Errorf("issue session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, m.cookie(signed, expires))
	return nil
}

// For returns the session view of r. Validation is deferred until
// CurrentUserID is called, so it is cheap to call on every request.
func (m *Manager) For(r *http.Request) identity.SessionSource {
	return &requestSession{m: m, r: r}
}

// Destroy revokes the session carried by r, if any, and expires the cookie.
// It returns the user that owned the session.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, error) {
	http.SetCookie(w, m.cookie("", time.Unix(0, 0)))

	claims, ok := m.parse(r)
	if !ok {
		return 0, ErrNoSession
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrNoSession
	}
	if err := m.store.RevokeSession(ctx, claims.ID); err != nil {
		return 0, fmt.Errorf("destroy session: %w", err)
	}
	return userID, nil
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}

// parse validates the cookie signature and expiry without touching the store.
func (m *Manager) parse(r *http.Request) (*jwt.RegisteredClaims, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(c.Value, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || claims.ID == "" {
		m.logger.Debug("rejected session cookie", "err", err)
		return nil, false
	}
	return claims, true
}

// requestSession binds a Manager to one request and memoizes the lookup.
type requestSession struct {
	m *Manager
	r *http.Request

	done   bool
	userID int64
	ok     bool
	err    error
}

// CurrentUserID implements identity.SessionSource.
func (s *requestSession) CurrentUserID(ctx context.Context) (int64, bool, error) {
	if !s.done {
		s.userID, s.ok, s.err = s.lookup(ctx)
		s.done = true
	}
	return s.userID, s.ok, s.err
}

// lookup reads the session row only for a cookie whose signature and expiry
// already check out. A revoked but unexpired cookie still costs one read.
func (s *requestSession) lookup(ctx context.Context) (int64, bool, error) {
	claims, ok := s.m.parse(s.r)
	if !ok {
		return 0, false, nil
	}
	subject, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false, nil
	}

	userID, active, err := s.m.store.SessionUser(ctx, claims.ID)
	if err != nil {
		return 0, false, err
	}
	if !active || userID != subject {
		return 0, false, nil
	}
	return userID, true, nil
}
