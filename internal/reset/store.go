// Package reset issues and redeems single-use password-reset tokens. Tokens
// live in a volatile Redis store with a TTL; when Redis is unreachable the
// broker falls back to a durable Postgres cache table with the same TTL.
package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss indicates the key does not exist or has expired.
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is a TTL-bound key-value store with atomic get-and-delete. Both the
// volatile primary and the durable fallback satisfy it, so the broker never
// branches on store identity.
type Store interface {
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
}

// RedisStore is the volatile primary store.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetEx writes the mapping with a TTL.
func (s *RedisStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetDel atomically reads and removes the mapping. Redis GETDEL guarantees
// at most one caller observes the value under concurrent redemption.
func (s *RedisStore) GetDel(ctx context.Context, key string) (string, error) {
	value, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// PGStore is the durable fallback store backed by the auth_cache table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// SetEx upserts the mapping with an absolute expiry.
func (s *PGStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.pool.Exec(ctx, `INSERT INTO auth_cache (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetDel removes the mapping and returns its value in one statement, so two
// concurrent redemptions cannot both read before either deletes.
func (s *PGStore) GetDel(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `DELETE FROM auth_cache WHERE key = $1 AND expires_at > NOW() RETURNING value`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*PGStore)(nil)
)
