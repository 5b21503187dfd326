package reset

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

const keyPrefix = "password_reset_"

// DefaultTTL bounds the life of an unredeemed token.
const DefaultTTL = 600 * time.Second

// ErrTokenInvalid covers unknown, expired, and already-redeemed tokens. The
// three cases are deliberately indistinguishable to the caller.
var ErrTokenInvalid = errors.New("reset token invalid")

// Broker generates and redeems opaque single-use reset tokens.
type Broker struct {
	primary  Store
	fallback Store
	ttl      time.Duration
	logger   *slog.Logger
}

// NewBroker constructs a Broker. fallback may be nil, in which case primary
// outages surface as errors instead of degrading.
func NewBroker(primary, fallback Store, ttl time.Duration, logger *slog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{primary: primary, fallback: fallback, ttl: ttl, logger: logger}
}

// Generate mints a cryptographically random token and stores
// password_reset_<token> -> user_id with the configured TTL. On a primary
// outage the same mapping goes to the fallback store, exactly once,
// transparently to the caller.
func (b *Broker) Generate(ctx context.Context, userID int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("reset: generate token: %w", err)
	}
	value := strconv.FormatInt(userID, 10)

	err = b.primary.SetEx(ctx, keyPrefix+token, value, b.ttl)
	if errors.Is(err, ErrUnavailable) && b.fallback != nil {
		b.logger.Warn("reset token store degraded to fallback", slog.Any("error", err))
		err = b.fallback.SetEx(ctx, keyPrefix+token, value, b.ttl)
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Verify redeems a token: the mapping is deleted in the same store operation
// that reads it, so a token never verifies twice. With the primary
// reachable, a miss there still consults the fallback once, which keeps
// tokens written during an outage redeemable after recovery.
func (b *Broker) Verify(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrTokenInvalid
	}
	key := keyPrefix + token

	value, err := b.primary.GetDel(ctx, key)
	switch {
	case err == nil:
		return parseUserID(value)
	case errors.Is(err, ErrUnavailable):
		if b.fallback == nil {
			return 0, err
		}
		b.logger.Warn("reset token lookup degraded to fallback", slog.Any("error", err))
	case errors.Is(err, ErrMiss):
		if b.fallback == nil {
			return 0, ErrTokenInvalid
		}
	default:
		return 0, err
	}

	value, err = b.fallback.GetDel(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return 0, ErrTokenInvalid
		}
		return 0, err
	}
	return parseUserID(value)
}

// TTL exposes the configured token lifetime.
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func parseUserID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	return id, nil
}
