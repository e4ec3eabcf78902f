// v2
// internal/identity/identity.go

// Package identity authenticates API callers against a hosted identity
// provider and exposes a Verifier for request middleware.
package identity

import (
	"context"
	"sync"

	"moldsense/internal/apperr"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// Verifier validates a bearer token and resolves its principal.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Principal, error)
}

// Session is the credential bundle issued on sign-in, sign-up or refresh.
type Session struct {
	UserID       string `json:"uid"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// StaticVerifier resolves tokens from a fixed in-memory table. Used in tests
// and single-tenant deployments without a hosted provider.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{tokens: make(map[string]Principal)}
}

// Grant registers a token for a principal.
func (v *StaticVerifier) Grant(token string, p Principal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = p
}

func (v *StaticVerifier) Verify(_ context.Context, idToken string) (Principal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.tokens[idToken]
	if !ok {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "invalid token")
	}
	return p, nil
}
