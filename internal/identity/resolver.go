// Package identity decides which principal, if any, issued a request: a
// dashboard operator holding a session, or a monitored node presenting its
// bearer token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fleet-gateway-go/internal/metrics"
	"fleet-gateway-go/internal/model"
)

// ErrUnauthorized is returned when neither the session nor a bearer token
// identifies the caller. It deliberately carries no detail.
var ErrUnauthorized = errors.New("unauthorized")

// SessionSource exposes the caller's session. Implementations must report
// (0, false, nil) for a missing, expired or tampered session and reserve the
// error for backend failures.
type SessionSource interface {
	CurrentUserID(ctx context.Context) (int64, bool, error)
}

// NodeStore looks up a node by exact token match.
type NodeStore interface {
	NodeByToken(ctx context.Context, token string) (model.Node, bool, error)
}

// NoSession is a SessionSource for callers without session support.
type NoSession struct{}

// CurrentUserID always reports no session.
func (NoSession) CurrentUserID(context.Context) (int64, bool, error) { return 0, false, nil }

// Resolver resolves caller identities. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	nodes   NodeStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a Resolver. The metrics parameter is optional; pass nil
// to disable resolution metrics.
func NewResolver(nodes NodeStore, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		nodes:   nodes,
		logger:  logger.With("component", "identity_resolver"),
		metrics: m,
	}
}

// Resolve returns exactly one identity or an error. An active session wins
// without touching the node store; otherwise a "Bearer <token>" authorization
// value is matched against the node store. Anything else is ErrUnauthorized.
func (r *Resolver) Resolve(ctx context.Context, sess SessionSource, authorization string) (model.CallerIdentity, error) {
	if sess == nil {
		sess = NoSession{}
	}

	userID, ok, err := sess.CurrentUserID(ctx)
	if err != nil {
		r.observe(metrics.ResultError)
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if ok {
		r.observe(metrics.ResultUser)
		return model.DashboardUser{ID: userID}, nil
	}

	token, ok := BearerToken(authorization)
	if !ok {
		r.logger.Debug("no session and no bearer token")
		r.observe(metrics.ResultRejected)
		return nil, ErrUnauthorized
	}

	node, found, err := r.nodes.NodeByToken(ctx, token)
	if err != nil {
		r.observe(metrics.ResultError)
		return nil, fmt.Errorf("resolve node token: %w", err)
	}
	if !found {
		r.logger.Info("node token not recognised",
			"token_len", len(token),
			"token_preview", tokenPreview(token),
		)
		r.observe(metrics.ResultRejected)
		return nil, ErrUnauthorized
	}

	r.observe(metrics.ResultNode)
	return model.MonitoredNode{ID: node.ID, Name: node.Name}, nil
}

func (r *Resolver) observe(result string) {
	if r.metrics != nil {
		r.metrics.IdentityResolutions.WithLabelValues(result).Inc()
	}
}

// BearerToken extracts the token from an Authorization value of the form
// "Bearer <token>". The scheme is case-insensitive and must be followed by
// whitespace; surrounding whitespace is dropped from the token.
func BearerToken(authorization string) (string, bool) {
	const scheme = "bearer"

	v := strings.TrimLeft(authorization, " \t")
	if len(v) <= len(scheme) || !strings.EqualFold(v[:len(scheme)], scheme) {
		return "", false
	}
	rest := v[len(scheme):]
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", false
	}
	return token, true
}

// tokenPreview keeps only the ends of a token for logs.
func tokenPreview(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
