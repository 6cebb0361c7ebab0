package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession records session id for userID, valid until expiresAt.
func (s *Store) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		id, userID, s.now().UTC().Unix(), expiresAt.UTC().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session: %w", ErrDuplicate)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionUser returns the user bound to session id when the session is
// neither revoked nor expired.
func (s *Store) SessionUser(ctx context.Context, id string) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`,
		id, s.now().UTC().Unix()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup session: %w", err)
	}
	return userID, true, nil
}

// RevokeSession marks session id as revoked. Revoking an unknown or already
// revoked session is not an error.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		s.now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes expired and revoked sessions and returns how
// many were removed.
func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ? OR revoked_at IS NOT NULL`,
		s.now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
