// ABOUTME: Tests for bearer token sources
// ABOUTME: Covers the no-session state, source swapping, and JWT expiry gating

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestStaticTokenSource_Empty(t *testing.T) {
	source := NewStaticTokenSource("")
	_, err := source.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStaticTokenSource_Token(t *testing.T) {
	source := NewStaticTokenSource("my-token")
	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "my-token", token)
}

func TestSessionTokenSource_ValidJWT(t *testing.T) {
	raw := signedToken(t, time.Hour)
	source := NewSessionTokenSource(NewStaticTokenSource(raw))

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestSessionTokenSource_ExpiredJWT(t *testing.T) {
	raw := signedToken(t, -time.Hour)
	source := NewSessionTokenSource(NewStaticTokenSource(raw))

	_, err := source.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionTokenSource_OpaqueToken(t *testing.T) {
	// Non-JWT tokens pass through; the server decides their validity
	source := NewSessionTokenSource(NewStaticTokenSource("opaque-bearer-token"))

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque-bearer-token", token)
}

func TestSessionTokenSource_NilSource(t *testing.T) {
	source := NewSessionTokenSource(nil)
	_, err := source.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionTokenSource_SetSource(t *testing.T) {
	source := NewSessionTokenSource(NewStaticTokenSource(""))

	_, err := source.Token()
	assert.ErrorIs(t, err, ErrNoSession)

	// User signs in
	source.SetSource(NewStaticTokenSource("fresh-token"))
	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)

	// User signs out
	source.SetSource(NewStaticTokenSource(""))
	_, err = source.Token()
	assert.ErrorIs(t, err, ErrNoSession)
}
