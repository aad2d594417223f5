package sessions

import (
	"time"
)

// Session is one authenticated login lineage on one device.
type Session struct {
	ID               string
	UserID           int64
	RefreshTokenHash string
	CSRFTokenHash    string // empty when no CSRF token was issued

	IPAddress  string
	UserAgent  string
	DeviceType string
	Browser    string
	OS         string

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time

	// OAuthStateID is set only while a mobile token exchange is pending.
	OAuthStateID    *string
	TokensExchanged bool

	TokenFamilyID  string // fixed for the lifetime of the lineage
	RotationCount  int
	LastRotationAt *time.Time
}

func (s *Session) Clone() *Session {
	c := *s
	if s.OAuthStateID != nil {
		id := *s.OAuthStateID
		c.OAuthStateID = &id
	}
	if s.LastRotationAt != nil {
		at := *s.LastRotationAt
		c.LastRotationAt = &at
	}
	return &c
}

// RotatedRefreshToken is a ledger row recording a superseded refresh token.
type RotatedRefreshToken struct {
	HashedToken             string
	TokenFamilyID           string
	RotationCountAtRotation int
	CreatedAt               time.Time
}
