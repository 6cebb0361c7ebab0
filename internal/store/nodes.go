package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"fleet-gateway-go/internal/model"
)

// nodeTokenBytes is the entropy of a freshly issued node token.
const nodeTokenBytes = 32

// NewNodeToken returns a random hex-encoded node secret.
func NewNodeToken() (string, error) {
	buf := make([]byte, nodeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateNode registers a node and returns it with its secret token. The token
// is not recoverable afterwards.
func (s *Store) CreateNode(ctx context.Context, name string) (model.Node, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Node{}, "", fmt.Errorf("create node: name is required")
	}
	token, err := NewNodeToken()
	if err != nil {
		return model.Node{}, "", err
	}

	now := s.now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (name, token_hash, created_at) VALUES (?, ?, ?)`,
		name, hashSecret(token), now)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Node{}, "", fmt.Errorf("create node %q: %w", name, ErrDuplicate)
		}
		return model.Node{}, "", fmt.Errorf("create node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Node{}, "", fmt.Errorf("create node: %w", err)
	}
	return model.Node{ID: id, Name: name, CreatedAt: unixTime(now)}, token, nil
}

// NodeByToken returns the node whose token matches exactly. It reports
// false, not an error, when no node matches.
func (s *Store) NodeByToken(ctx context.Context, token string) (model.Node, bool, error) {
	if token == "" {
		return model.Node{}, false, nil
	}
	var (
		n       model.Node
		created int64
	)
	err := s.nodeByTokenStmt.QueryRowContext(ctx, hashSecret(token)).Scan(&n.ID, &n.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, false, nil
	}
	if err != nil {
		return model.Node{}, false, fmt.Errorf("lookup node token: %w", err)
	}
	n.CreatedAt = unixTime(created)
	return n, true, nil
}

// CountNodes returns the number of registered nodes.
func (s *Store) CountNodes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

// ListNodes returns all nodes ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	nodes := []model.Node{}
	for rows.Next() {
		var (
			n       model.Node
			created int64
		)
		if err := rows.Scan(&n.ID, &n.Name, &created); err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		n.CreatedAt = unixTime(created)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// RotateNodeToken replaces the token of node id and returns the new secret.
func (s *Store) RotateNodeToken(ctx context.Context, id int64) (string, error) {
	token, err := NewNodeToken()
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET token_hash = ? WHERE id = ?`, hashSecret(token), id)
	if err != nil {
		return "", fmt.Errorf("rotate node token: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return "", fmt.Errorf("rotate node token %d: %w", id, err)
	}
	return token, nil
}

// DeleteNode removes node id; its token stops authenticating immediately.
func (s *Store) DeleteNode(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
