package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fleet-gateway-go/internal/model"
)

// DefaultRole is assigned to accounts created without an explicit role.
const DefaultRole = "admin"

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a
// wrong password; callers cannot tell the two apart.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrUsersExist is returned by CreateFirstUser once any account exists.
var ErrUsersExist = errors.New("accounts already exist")

// CreateUser stores a new account with a bcrypt hash of password.
func (s *Store) CreateUser(ctx context.Context, username, password, role string) (model.User, error) {
	return s.insertUser(ctx, false, username, password, role)
}

// CreateFirstUser stores an account only while the users table is empty.
// The emptiness check and the insert are a single statement, so concurrent
// callers cannot both succeed.
func (s *Store) CreateFirstUser(ctx context.Context, username, password, role string) (model.User, error) {
	return s.insertUser(ctx, true, username, password, role)
}

func (s *Store) insertUser(ctx context.Context, onlyFirst bool, username, password, role string) (model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.User{}, fmt.Errorf("create user: username and password are required")
	}
	if role == "" {
		role = DefaultRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, fmt.Errorf("create user: hash password: %w", err)
	}

	query := `INSERT INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`
	if onlyFirst {
		query = `INSERT INTO users (username, password_hash, role, created_at)
			SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM users)`
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, query, username, string(hash), role, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("create user %q: %w", username, ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	if onlyFirst {
		n, err := res.RowsAffected()
		if err != nil {
			return model.User{}, fmt.Errorf("create user: %w", err)
		}
		if n == 0 {
			return model.User{}, ErrUsersExist
		}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	return model.User{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    unixTime(now.Unix()),
	}, nil
}

// UserByUsername returns the account with the given username.
func (s *Store) UserByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// UserByID returns the account with the given id.
func (s *Store) UserByID(ctx context.Context, id int64) (model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// CountUsers returns the number of dashboard accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Authenticate verifies username and password.
func (s *Store) Authenticate(ctx context.Context, username, password string) (model.User, error) {
	u, err := s.UserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = unixTime(created)
	return u, nil
}
