package credentials_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/credentials"
	"github.com/jrsteele09/go-session-auth/internal/secretbox"
	"github.com/jrsteele09/go-session-auth/users"
	fakeuserrepo "github.com/jrsteele09/go-session-auth/users/repofake"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	now      time.Time
	userRepo *fakeuserrepo.FakeUserRepo
	box      *secretbox.Box
	verifier *credentials.Verifier
	secret   string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	box, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "endurain", AccountName: "alice"})
	require.NoError(t, err)

	f := &testFixture{
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		userRepo: fakeuserrepo.NewFakeUserRepo(),
		box:      box,
		secret:   key.Secret(),
	}
	f.verifier = credentials.NewVerifier(f.userRepo, box, credentials.WithNowFunc(func() time.Time { return f.now }))
	return f
}

func (f *testFixture) addMFAUser(t *testing.T) *users.User {
	t.Helper()
	sealed, err := f.box.Seal(f.secret)
	require.NoError(t, err)
	hash, err := users.HashPassword("password123")
	require.NoError(t, err)
	return f.userRepo.Upsert(&users.User{
		Username:         "alice",
		PasswordHash:     hash,
		Active:           true,
		MFAEnabled:       true,
		MFASecret:        sealed,
		BackupCodeHashes: []string{credentials.HashBackupCode("ABCD-1234")},
	})
}

func TestVerifyPasswordUpgradesLegacyHash(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	legacy, err := users.HashLegacy("password123")
	require.NoError(t, err)
	u := f.userRepo.Upsert(&users.User{Username: "bob", PasswordHash: legacy, Active: true})

	ok, err := f.verifier.VerifyPassword(ctx, u, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	stored, err := f.userRepo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, legacy, stored.PasswordHash)

	ok, err = f.verifier.VerifyPassword(ctx, u, "password123")
	require.NoError(t, err)
	require.True(t, ok)

	stored, err = f.userRepo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, users.NeedsRehash(stored.PasswordHash))

	ok, err = f.verifier.VerifyPassword(ctx, stored, "password123")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMFACodeTOTP(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	u := f.addMFAUser(t)

	code, err := totp.GenerateCode(f.secret, f.now)
	require.NoError(t, err)

	ok, err := f.verifier.VerifyMFACode(ctx, u, code)
	require.NoError(t, err)
	require.True(t, ok)

	stale, err := totp.GenerateCode(f.secret, f.now.Add(-10*time.Minute))
	require.NoError(t, err)
	if stale != code {
		ok, err = f.verifier.VerifyMFACode(ctx, u, stale)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestVerifyMFACodeTOTPReplayRejected(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	u := f.addMFAUser(t)

	code, err := totp.GenerateCode(f.secret, f.now)
	require.NoError(t, err)
	ok, err := f.verifier.VerifyMFACode(ctx, u, code)
	require.NoError(t, err)
	require.True(t, ok)

	// still inside the skew window
	f.now = f.now.Add(20 * time.Second)
	ok, err = f.verifier.VerifyMFACode(ctx, u, code)
	require.NoError(t, err)
	require.False(t, ok, "a code must not be accepted twice")

	previous, err := totp.GenerateCode(f.secret, f.now.Add(-30*time.Second))
	require.NoError(t, err)
	if previous != code {
		ok, err = f.verifier.VerifyMFACode(ctx, u, previous)
		require.NoError(t, err)
		require.False(t, ok, "an earlier step is rejected once a later one was used")
	}

	f.now = f.now.Add(30 * time.Second)
	next, err := totp.GenerateCode(f.secret, f.now)
	require.NoError(t, err)
	if next != code {
		ok, err = f.verifier.VerifyMFACode(ctx, u, next)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestVerifyMFACodeBackupCodeIsSingleUse(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	u := f.addMFAUser(t)

	ok, err := f.verifier.VerifyMFACode(ctx, u, "abcd1234")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.verifier.VerifyMFACode(ctx, u, "ABCD-1234")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyMFACodeRequiresEnabledMFA(t *testing.T) {
	f := setupTestFixture(t)
	u := f.addMFAUser(t)
	u.MFAEnabled = false

	code, err := totp.GenerateCode(f.secret, f.now)
	require.NoError(t, err)

	ok, err := f.verifier.VerifyMFACode(context.Background(), u, code)
	require.NoError(t, err)
	require.False(t, ok)
}
