package auth

import "time"

// Roles recognised by the application.
const (
	RoleAdmin      = "admin"
	RoleBackoffice = "backoffice"
	RoleViewer     = "viewer"
)

// SessionRoleKey is the session value holding the user's role.
const SessionRoleKey = "role"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	Role         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
