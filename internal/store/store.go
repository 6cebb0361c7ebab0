// Package store implements dashboard persistence backed by SQLite: operator
// accounts, monitored nodes and their secret tokens, sessions and the
// authentication event log.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique column would be violated.
	ErrDuplicate = errors.New("already exists")
)

const defaultMaxOpenConns = 10

const nodeByTokenQuery = `SELECT id, name, created_at FROM nodes WHERE token_hash = ?`

// Store wraps a SQLite database connection for all dashboard persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time

	nodeByTokenStmt *sql.Stmt
}

// Open creates or opens the SQLite database at path, enables WAL mode and
// runs migrations.
func Open(path string) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Per-connection PRAGMAs go in the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxOpenConns)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite setup (journal_mode): %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if s.nodeByTokenStmt, err = db.Prepare(nodeByTokenQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare node token query: %w", err)
	}
	return s, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	var stmtErr error
	if s.nodeByTokenStmt != nil {
		stmtErr = s.nodeByTokenStmt.Close()
	}
	return errors.Join(stmtErr, s.db.Close())
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Migrate creates all required tables and indexes if they do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'admin',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	token_hash TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	revoked_at INTEGER NULL
);
CREATE TABLE IF NOT EXISTS auth_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NULL,
	username TEXT NULL,
	ip_address TEXT NULL,
	event_type TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	message TEXT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_auth_logs_user_id ON auth_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_auth_logs_event_type ON auth_logs(event_type);
CREATE INDEX IF NOT EXISTS idx_auth_logs_timestamp ON auth_logs(timestamp);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func ensureParentDir(path string) error {
	if path == "" || strings.HasPrefix(path, ":memory:") || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create database dir %s: %w", dir, err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// hashSecret returns the hex SHA-256 of a bearer secret; only hashes are stored.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
