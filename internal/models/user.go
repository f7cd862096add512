package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated account. The password hash never leaves the server.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// PasswordChangedAt is set by a password change. Tokens issued before it
	// are no longer accepted.
	PasswordChangedAt *time.Time `json:"-"`
}

// Role names stored in user_roles.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// IsValidRole reports whether role is one of the known role names.
func IsValidRole(role string) bool {
	return role == RoleAdmin || role == RoleModerator
}
