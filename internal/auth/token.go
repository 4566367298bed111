// ABOUTME: Bearer token access for the remote thread API and streaming transport
// ABOUTME: Treats token acquisition as an external capability yielding a token or nothing

package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession indicates no authenticated session is available.
// Callers are expected to route to their local fallback path on this error,
// never to issue an unauthenticated remote request.
var ErrNoSession = errors.New("no authenticated session")

// TokenSource yields the current bearer token for remote calls.
// An empty token with ErrNoSession means "no session": the caller must use
// its local fallback path.
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource returns a fixed token, or ErrNoSession if empty.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a source around a fixed token string.
// An empty string models the logged-out state.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the configured token or ErrNoSession.
func (s *StaticTokenSource) Token() (string, error) {
	if s.token == "" {
		return "", ErrNoSession
	}
	return s.token, nil
}

// SessionTokenSource wraps another source and treats expired JWTs as absent.
// The token is parsed without signature verification - verification is the
// server's job; the client only reads the exp claim to avoid sending tokens
// the server will reject.
type SessionTokenSource struct {
	mu     sync.RWMutex
	source TokenSource
	now    func() time.Time
}

// NewSessionTokenSource wraps a TokenSource with client-side expiry checking.
func NewSessionTokenSource(source TokenSource) *SessionTokenSource {
	return &SessionTokenSource{
		source: source,
		now:    time.Now,
	}
}

// SetSource swaps the underlying source, e.g. after the user signs in or out.
func (s *SessionTokenSource) SetSource(source TokenSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Token returns the underlying token unless it carries an exp claim in the
// past, in which case ErrNoSession is returned.
func (s *SessionTokenSource) Token() (string, error) {
	s.mu.RLock()
	source := s.source
	s.mu.RUnlock()

	if source == nil {
		return "", ErrNoSession
	}

	token, err := source.Token()
	if err != nil {
		return "", err
	}

	if expired(token, s.now()) {
		return "", ErrNoSession
	}
	return token, nil
}

// expired reports whether the token is a JWT with an exp claim in the past.
// Tokens that don't parse as JWTs are passed through untouched - opaque
// bearer tokens are legitimate and the server decides their validity.
func expired(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
