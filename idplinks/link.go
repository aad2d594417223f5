// Package idplinks manages the per-user, per-provider links created by
// federated logins and the provider tokens stored on them.
package idplinks

import (
	"context"
	"time"
)

// Link joins a local user to an identity provider subject. One per (user, provider).
type Link struct {
	UserID     int64
	ProviderID int64
	Subject    string

	// EncryptedRefreshToken is sealed with secretbox. Empty when no token is held.
	EncryptedRefreshToken string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenUpdatedAt *time.Time
	LastLogin             time.Time
}

func (l *Link) HasRefreshToken() bool {
	return l.EncryptedRefreshToken != ""
}

func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	c := *l
	if l.AccessTokenExpiresAt != nil {
		t := *l.AccessTokenExpiresAt
		c.AccessTokenExpiresAt = &t
	}
	if l.RefreshTokenUpdatedAt != nil {
		t := *l.RefreshTokenUpdatedAt
		c.RefreshTokenUpdatedAt = &t
	}
	return &c
}

// TokenUpdate replaces the stored provider tokens of one link.
type TokenUpdate struct {
	UserID                int64
	ProviderID            int64
	EncryptedRefreshToken string
	AccessTokenExpiresAt  *time.Time
	UpdatedAt             time.Time
}

type Repo interface {
	// Upsert inserts or replaces the (UserID, ProviderID) link.
	Upsert(ctx context.Context, link *Link) error
	Get(ctx context.Context, userID, providerID int64) (*Link, error)
	ListByUser(ctx context.Context, userID int64) ([]*Link, error)
	FindBySubject(ctx context.Context, providerID int64, subject string) (*Link, error)
	UpdateTokens(ctx context.Context, update TokenUpdate) error
	// ClearTokens removes the stored provider tokens but keeps the link.
	ClearTokens(ctx context.Context, userID, providerID int64) error
	Delete(ctx context.Context, userID, providerID int64) error
}
