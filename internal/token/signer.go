// Package token issues and verifies the signed session token pairs handed
// out on login: a short-lived access token and a longer-lived refresh token,
// both HS256 JWTs bound to a user id.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// ErrInvalidToken covers tampered, expired, malformed, or mistyped tokens.
var ErrInvalidToken = errors.New("invalid token")

// Pair bundles the tokens returned on login. ExpirySeconds reports the
// refresh lifetime.
type Pair struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh"`
	ExpirySeconds int64  `json:"expiry_time_seconds"`
}

// Claims extends registered claims with a token type discriminator so an
// access token can never pass for a refresh token or vice versa.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
}

// Signer mints and verifies token pairs with a server-held secret.
type Signer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSigner constructs a Signer.
func NewSigner(secret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates a fresh token pair for the user. Token values are
// unpredictable (random jti per token) while the structure stays fixed.
func (s *Signer) Issue(userID int64) (Pair, error) {
	access, err := s.sign(userID, typeAccess, s.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("token: sign access: %w", err)
	}
	refresh, err := s.sign(userID, typeRefresh, s.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("token: sign refresh: %w", err)
	}
	return Pair{
		Access:        access,
		Refresh:       refresh,
		ExpirySeconds: int64(s.refreshTTL / time.Second),
	}, nil
}

// Verify validates an access token and returns the subject user id.
func (s *Signer) Verify(tokenString string) (int64, error) {
	return s.parse(tokenString, typeAccess)
}

// VerifyRefresh validates a refresh token and returns the subject user id.
func (s *Signer) VerifyRefresh(tokenString string) (int64, error) {
	return s.parse(tokenString, typeRefresh)
}

func (s *Signer) sign(userID int64, tokenType string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenType: tokenType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) parse(tokenString, wantType string) (int64, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
