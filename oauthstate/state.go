package oauthstate

import (
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
)

// Lifetime is how long a federated-login attempt may take.
const Lifetime = 10 * time.Minute

// State binds one federated-login redirect to the client that started it.
type State struct {
	ID         string
	ProviderID int64
	Nonce      string
	ClientType clients.ClientType
	IPAddress  string

	RedirectPath string

	// CodeChallenge is the mobile client's PKCE challenge, checked at token exchange.
	CodeChallenge       string
	CodeChallengeMethod string

	// ProviderCodeVerifier is the verifier this server sends to the identity provider.
	ProviderCodeVerifier string

	// UserID is set when an authenticated user is linking a provider.
	UserID *int64

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Redeemable reports whether the state can still be used at now.
func (s *State) Redeemable(now time.Time) bool {
	return !s.Used && now.Before(s.ExpiresAt)
}

// IsLinkMode reports whether the flow links a provider to an existing user.
func (s *State) IsLinkMode() bool {
	return s.UserID != nil
}

func (s *State) Clone() *State {
	c := *s
	if s.UserID != nil {
		id := *s.UserID
		c.UserID = &id
	}
	return &c
}
