package store

import (
	"context"
	"fmt"
	"time"
)

// Auth event types.
const (
	EventLogin    = "login"
	EventLogout   = "logout"
	EventRegister = "register"
)

// AuthEvent is one row of the authentication audit log.
type AuthEvent struct {
	UserID    *int64
	Username  string
	IPAddress string
	EventType string
	Success   bool
	Message   string
	Timestamp time.Time
}

// LogAuthEvent appends ev to the audit log. Timestamp defaults to now.
func (s *Store) LogAuthEvent(ctx context.Context, ev AuthEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_logs (user_id, username, ip_address, event_type, success, message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, nullIfEmpty(ev.Username), nullIfEmpty(ev.IPAddress), ev.EventType, ev.Success,
		nullIfEmpty(ev.Message), ts.UTC().Unix())
	if err != nil {
		return fmt.Errorf("log auth event: %w", err)
	}
	return nil
}

// RecentAuthEvents returns up to limit events, newest first.
func (s *Store) RecentAuthEvents(ctx context.Context, limit int) ([]AuthEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(username, ''), COALESCE(ip_address, ''), event_type, success,
		        COALESCE(message, ''), timestamp
		 FROM auth_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent auth events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []AuthEvent
	for rows.Next() {
		var (
			ev     AuthEvent
			userID *int64
			ts     int64
		)
		if err := rows.Scan(&userID, &ev.Username, &ev.IPAddress, &ev.EventType, &ev.Success, &ev.Message, &ts); err != nil {
			return nil, fmt.Errorf("recent auth events: %w", err)
		}
		ev.UserID = userID
		ev.Timestamp = unixTime(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
