// Package oauth2 holds the JSON bodies returned by the token-issuing endpoints.
package oauth2

// TokenTypeBearer is the only token type this server issues.
const TokenTypeBearer = "bearer"

// TokenResponse is returned by login, MFA verify, refresh and the mobile
// token exchange.
type TokenResponse struct {
	// AccessToken is the short-lived JWT.
	// Usage: "Authorization: Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// CSRFToken is opaque. Web clients echo it back in the X-CSRF-Token header on refresh.
	CSRFToken string `json:"csrf_token"`

	// SessionID identifies the server-side session.
	SessionID string `json:"session_id"`

	// ExpiresIn is the access token lifetime in seconds.
	// Example: 900 (for 15 minutes)
	ExpiresIn int `json:"expires_in"`

	// TokenType is always "bearer".
	TokenType string `json:"token_type"`

	// RefreshToken is only present for mobile clients. Web clients receive it
	// in an HttpOnly cookie instead.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// MFARequiredResponse tells the client a second factor is needed.
// Mobile clients additionally receive the username to echo back.
type MFARequiredResponse struct {
	MFARequired bool   `json:"mfa_required"`
	Username    string `json:"username,omitempty"`
	Message     string `json:"message"`
}
