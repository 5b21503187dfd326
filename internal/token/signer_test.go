package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner() *Signer {
	return NewSigner("test-secret", 5*time.Minute, 24*time.Hour)
}

func TestIssueAndVerify(t *testing.T) {
	signer := newTestSigner()

	pair, err := signer.Issue(42)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)
	assert.Equal(t, int64(86400), pair.ExpirySeconds)

	userID, err := signer.Verify(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	userID, err = signer.VerifyRefresh(pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	signer := newTestSigner()
	pair, err := signer.Issue(42)
	require.NoError(t, err)

	_, err = signer.Verify(pair.Refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = signer.VerifyRefresh(pair.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenValuesAreUnpredictable(t *testing.T) {
	signer := newTestSigner()
	first, err := signer.Issue(42)
	require.NoError(t, err)
	second, err := signer.Issue(42)
	require.NoError(t, err)
	assert.NotEqual(t, first.Access, second.Access)
	assert.NotEqual(t, first.Refresh, second.Refresh)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer := newTestSigner()
	pair, err := signer.Issue(42)
	require.NoError(t, err)

	tampered := pair.Access[:len(pair.Access)-2] + "xx"
	_, err = signer.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	pair, err := NewSigner("other-secret", time.Minute, time.Hour).Issue(42)
	require.NoError(t, err)

	_, err = newTestSigner().Verify(pair.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer := newTestSigner()
	signer.now = func() time.Time { return time.Now().Add(-10 * time.Minute) }
	pair, err := signer.Issue(42)
	require.NoError(t, err)

	signer.now = time.Now
	_, err = signer.Verify(pair.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The refresh token outlives the access token.
	_, err = signer.VerifyRefresh(pair.Refresh)
	assert.NoError(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := newTestSigner().Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
