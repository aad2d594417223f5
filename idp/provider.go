// Package idp talks to upstream OpenID Connect identity providers.
package idp

import (
	"context"
	"time"
)

// Identity is the verified end-user returned by a provider.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Username      string
}

// Tokens are the provider tokens kept for later refresh or revocation.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ExchangeResult is the outcome of a successful authorization-code exchange.
type ExchangeResult struct {
	Identity Identity
	Tokens   Tokens
}

// Provider is one configured identity provider.
type Provider interface {
	ID() int64
	Slug() string
	Name() string

	// AuthCodeURL builds the authorization redirect carrying state, nonce and
	// the S256 challenge of this server's own PKCE verifier.
	AuthCodeURL(state, nonce, codeChallenge string) string

	// Exchange redeems code, verifies the ID token and checks its nonce.
	Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (*ExchangeResult, error)

	// RefreshToken obtains fresh provider tokens from a refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)

	// Revoke revokes a token at the provider (RFC 7009). Providers without a
	// revocation endpoint return nil.
	Revoke(ctx context.Context, token string) error
}
