package api

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenSecretBytes is the size of the generated signing secret when none
// is configured.
const tokenSecretBytes = 32

// tokenStore issues and validates bearer tokens for the HTTP surface.
//
// Tokens are HS256 JWTs carrying a jti; the store keeps a server-side
// table keyed by jti so expiry slides with activity and /logout can
// revoke a token immediately. A signed token whose jti is absent from
// the table is dead, however valid its signature.
type tokenStore struct {
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]time.Time // jti -> expiry
}

// newTokenStore builds a store signing with secret. An empty secret gets
// a random per-process one; tokens then die with the process, which
// matches the adapter's statelessness.
func newTokenStore(secret string, ttl time.Duration) *tokenStore {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, tokenSecretBytes)
		//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
		rand.Read(key)
	}
	return &tokenStore{
		secret:   key,
		ttl:      ttl,
		sessions: make(map[string]time.Time),
	}
}

// Issue creates a new signed token for subject and registers its session.
func (ts *tokenStore) Issue(subject string) (string, error) {
	jti := uuid.NewString()

	claims := jwt.MapClaims{
		"sub": subject,
		"jti": jti,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	ts.mu.Lock()
	ts.sessions[jti] = time.Now().Add(ts.ttl)
	ts.mu.Unlock()

	return signed, nil
}

// Validate checks a presented token and, when valid, slides its expiry.
//
// Returns:
//   - string: The token's jti, usable for later revocation
//   - bool: Whether the token is valid right now
func (ts *tokenStore) Validate(tokenString string) (string, bool) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	expiry, ok := ts.sessions[jti]
	if !ok {
		return "", false
	}
	if time.Now().After(expiry) {
		delete(ts.sessions, jti)
		return "", false
	}

	// Activity slides the expiry window.
	ts.sessions[jti] = time.Now().Add(ts.ttl)
	return jti, true
}

// Revoke invalidates a token by jti. Revoking an unknown jti is a no-op.
func (ts *tokenStore) Revoke(jti string) {
	ts.mu.Lock()
	delete(ts.sessions, jti)
	ts.mu.Unlock()
}

// cleanExpired removes expired sessions from the table.
func (ts *tokenStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for jti, expiry := range ts.sessions {
		if now.After(expiry) {
			delete(ts.sessions, jti)
		}
	}
}

// count returns the number of live sessions.
func (ts *tokenStore) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.sessions)
}
