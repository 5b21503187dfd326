package users

import (
	"context"
	"errors"
)

// ErrDuplicateEmail indicates the normalized email is already registered.
var ErrDuplicateEmail = errors.New("email already in use")

// Repository defines persistence operations for user accounts. Emails are
// expected to be normalized before they reach the repository.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, email, passwordHash, name string) (*User, error)
	SetPassword(ctx context.Context, id int64, passwordHash string) error
	Save(ctx context.Context, user *User) error
	TouchLastLogin(ctx context.Context, id int64) error
}
