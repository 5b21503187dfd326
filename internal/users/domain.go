package users

import (
	"strings"
	"time"
)

// User represents a user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	IsActive     bool
	IsStaff      bool
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// Profile is the public projection of a user account. The password hash
// is never part of it.
type Profile struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile returns the public projection of the user.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name}
}

// NormalizeEmail lowercases the domain part of the address, leaving the
// local part untouched. Inputs without an @ are returned trimmed as-is.
// The operation is idempotent.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + strings.ToLower(email[at+1:])
}
