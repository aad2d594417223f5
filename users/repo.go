package users

import (
	"context"
	"time"
)

type UserRepo interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	// ConsumeBackupCode removes codeHash from the user's unused codes and
	// reports whether it was present.
	ConsumeBackupCode(ctx context.Context, id int64, codeHash string) (bool, error)
	// RecordTOTPStep stores step as the last accepted TOTP time step when it
	// is newer than the stored one, and reports whether it was.
	RecordTOTPStep(ctx context.Context, id int64, step int64) (bool, error)
}
