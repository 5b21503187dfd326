// Package ratelimit implements fixed-window request counting on Redis for
// the sensitive authentication endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rate expresses N requests per fixed window.
type Rate struct {
	Limit  int64
	Window time.Duration
}

// PerMinute builds an N-per-minute rate.
func PerMinute(n int64) Rate {
	return Rate{Limit: n, Window: time.Minute}
}

// Limiter counts requests per (group, client key, window) in Redis.
// Counters carry the window number in the key, so each boundary starts a
// fresh count and expired counters never leak into the next window.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(client *redis.Client, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: client, logger: logger, now: time.Now}
}

// Allow atomically increments the counter for the current window and
// reports whether the request stays within rate. The increment itself is
// the only side effect of a rejected request. A Redis outage fails open
// with a warning; availability of login beats strictness of throttling.
func (l *Limiter) Allow(ctx context.Context, group, clientKey string, rate Rate) bool {
	if rate.Limit <= 0 || rate.Window <= 0 {
		return true
	}
	window := l.now().Unix() / int64(rate.Window/time.Second)
	key := fmt.Sprintf("%s_%s_%d", group, clientKey, window)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, failing open",
			slog.String("group", group), slog.Any("error", err))
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, rate.Window).Err(); err != nil {
			l.logger.Warn("rate counter expire failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return count <= rate.Limit
}
