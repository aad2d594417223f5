package sessions

import (
	"context"
	"time"
)

// RotateParams is one refresh-token rotation. The previous hash is written to
// the ledger and the session is updated in the same transaction.
type RotateParams struct {
	SessionID             string
	ExpectedRotationCount int // the update applies only if the stored count still matches
	PreviousHash          string
	NewHash               string
	NewCSRFHash           string
	TokenFamilyID         string
	Now                   time.Time
	ExpiresAt             time.Time
}

// ExchangeParams completes a pending mobile token exchange.
type ExchangeParams struct {
	SessionID   string
	NewHash     string
	NewCSRFHash string
	Now         time.Time
}

// Repo is the durable session and rotation-ledger store.
type Repo interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)

	// RotateWithLedger returns ErrRotationConflict if the session changed underneath.
	RotateWithLedger(ctx context.Context, p RotateParams) error

	// FindRotated returns autherrors.ErrNotFound when the hash was never superseded.
	FindRotated(ctx context.Context, hashedToken string) (*RotatedRefreshToken, error)

	// InvalidateFamily deletes every session of the family and its ledger rows atomically.
	InvalidateFamily(ctx context.Context, familyID string) (int64, error)

	// ExchangeTokens flips tokens_exchanged, stores the hashes, detaches and deletes
	// the linked OAuth state. It reports false if tokens were already exchanged.
	ExchangeTokens(ctx context.Context, p ExchangeParams) (bool, error)

	// Delete removes the session, its family's ledger rows and its OAuth state.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes sessions past expires_at and orphaned ledger rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
