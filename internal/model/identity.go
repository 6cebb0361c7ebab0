package model

import "time"

// CallerIdentity is the principal behind an authenticated request. It is
// either a DashboardUser or a MonitoredNode.
type CallerIdentity interface {
	callerIdentity()
}

// DashboardUser is an operator authenticated through the session cookie.
type DashboardUser struct {
	ID int64
}

// MonitoredNode is an agent authenticated through its bearer token.
type MonitoredNode struct {
	ID   int64
	Name string
}

func (DashboardUser) callerIdentity() {}
func (MonitoredNode) callerIdentity() {}

// User is a dashboard account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Node is a monitored host registered with the dashboard. The secret token
// is never part of this record.
type Node struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
