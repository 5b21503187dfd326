package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyon-id/halcyon-id/internal/shared"
)

const userColumns = `id, email, password_hash, name, is_active, is_staff, is_admin, created_at, updated_at, last_login_at`

// PGRepository provides PostgreSQL backed persistence for user accounts.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by normalized email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Create inserts a new account. The unique index on email is the final
// arbiter for duplicates; 23505 maps to ErrDuplicateEmail.
func (r *PGRepository) Create(ctx context.Context, email, passwordHash, name string) (*User, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, name, is_active, is_staff, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, FALSE, FALSE, $4, $4)
		RETURNING `+userColumns, email, passwordHash, name, now)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// SetPassword replaces the stored credential hash.
func (r *PGRepository) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Save persists mutable profile fields.
func (r *PGRepository) Save(ctx context.Context, user *User) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET email = $2, name = $3, is_active = $4, is_staff = $5, is_admin = $6, updated_at = $7 WHERE id = $1`,
		user.ID, user.Email, user.Name, user.IsActive, user.IsStaff, user.IsAdmin, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchLastLogin stamps a successful authentication.
func (r *PGRepository) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.IsActive, &user.IsStaff, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
