// Package identity consumes the external identity provider that issues,
// refreshes and verifies the bearer tokens held by bridge sessions.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidToken is returned when the provider rejects an access token.
	ErrInvalidToken = errors.New("invalid access token")

	// ErrInvalidGrant is returned when the provider rejects a refresh token.
	ErrInvalidGrant = errors.New("invalid refresh token")
)

// Identity is the verified owner of an access token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// TokenSet is the result of a successful token refresh. The provider
// rotates the refresh token on every refresh; the previous one is dead.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider is the consumed identity-provider interface.
type Provider interface {
	// Verify resolves an access token to its owning identity.
	Verify(ctx context.Context, accessToken string) (*Identity, error)

	// Refresh exchanges a refresh token for a fresh token pair.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}
