package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	staterepofakes "github.com/jrsteele09/go-session-auth/oauthstate/repofakes"
	"github.com/jrsteele09/go-session-auth/pkce"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/sessions/repofakes"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	now        time.Time
	repo       *repofakes.FakeSessionRepo
	stateRepo  *staterepofakes.FakeStateRepo
	stateStore *oauthstate.Store
	store      *sessions.Store
}

func setupTestFixture(t *testing.T, options ...sessions.StoreOption) *testFixture {
	t.Helper()

	f := &testFixture{
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		stateRepo: staterepofakes.NewFakeStateRepo(),
	}
	nowFunc := func() time.Time { return f.now }
	f.repo = repofakes.NewFakeSessionRepo(f.stateRepo)
	f.stateStore = oauthstate.NewStore(f.stateRepo, oauthstate.WithNowFunc(nowFunc))

	opts := append([]sessions.StoreOption{
		sessions.WithNowFunc(nowFunc),
		sessions.WithIdleTimeout(true, time.Hour),
		sessions.WithAbsoluteTimeout(24 * time.Hour),
		sessions.WithRefreshExpiry(7 * 24 * time.Hour),
		sessions.WithReuseGracePeriod(5 * time.Second),
	}, options...)
	f.store = sessions.NewStore(f.repo, opts...)
	return f
}

func (f *testFixture) create(t *testing.T, id, family string) *sessions.Session {
	t.Helper()
	s, err := f.store.Create(context.Background(), sessions.CreateParams{
		ID:               id,
		UserID:           1,
		Device:           sessions.ParseDevice("10.0.0.1", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0"),
		RefreshTokenHash: "hash-" + id + "-0",
		TokenFamilyID:    family,
	})
	require.NoError(t, err)
	return s
}

func TestCreateSession(t *testing.T) {
	f := setupTestFixture(t)

	s := f.create(t, "s-1", "")
	require.Equal(t, "s-1", s.TokenFamilyID)
	require.Equal(t, 0, s.RotationCount)
	require.Nil(t, s.LastRotationAt)
	require.Equal(t, f.now, s.CreatedAt)
	require.Equal(t, f.now.Add(24*time.Hour), s.ExpiresAt, "expiry is capped by the absolute timeout")
	require.Equal(t, "Firefox", s.Browser)
	require.Equal(t, "Linux", s.OS)

	got, err := f.store.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, s.RefreshTokenHash, got.RefreshTokenHash)

	_, err = f.store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
}

func TestTimeoutsAreIndependent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.create(t, "s-1", "")
	require.NoError(t, f.store.ValidateTimeout(s))

	// Active every 30 minutes, so never idle, but past the absolute limit.
	for i := 0; i < 50; i++ {
		f.now = f.now.Add(30 * time.Minute)
		s, _ = f.store.Rotate(ctx, s, "h", "")
		if i < 47 {
			require.NoError(t, f.store.ValidateTimeout(s), "iteration %d", i)
		}
	}
	require.ErrorIs(t, f.store.ValidateTimeout(s), sessions.ErrSessionExpired)

	// Young session but idle beyond the idle limit.
	fresh := f.create(t, "s-2", "")
	f.now = f.now.Add(61 * time.Minute)
	require.ErrorIs(t, f.store.ValidateTimeout(fresh), sessions.ErrSessionExpired)
}

func TestIdleTimeoutDisabled(t *testing.T) {
	f := setupTestFixture(t, sessions.WithIdleTimeout(false, time.Hour))

	s := f.create(t, "s-1", "")
	f.now = f.now.Add(23 * time.Hour)
	require.NoError(t, f.store.ValidateTimeout(s))

	f.now = f.now.Add(2 * time.Hour)
	require.ErrorIs(t, f.store.ValidateTimeout(s), sessions.ErrSessionExpired)
}

func TestRotateKeepsFamilyAndLedgersPreviousHash(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.create(t, "s-1", "")
	f.now = f.now.Add(time.Minute)

	rotated, err := f.store.Rotate(ctx, s, "hash-s-1-1", "csrf-1")
	require.NoError(t, err)
	require.Equal(t, 1, rotated.RotationCount)
	require.Equal(t, s.TokenFamilyID, rotated.TokenFamilyID)
	require.Equal(t, s.CreatedAt, rotated.CreatedAt)
	require.Equal(t, f.now, rotated.LastActivityAt)
	require.NotNil(t, rotated.LastRotationAt)

	stored, err := f.store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "hash-s-1-1", stored.RefreshTokenHash)
	require.Equal(t, 1, stored.RotationCount)

	// the superseded hash is in the ledger, the new one is not
	outcome, _, err := f.store.CheckReuse(ctx, stored, "hash-s-1-1")
	require.NoError(t, err)
	require.Equal(t, sessions.ReuseNone, outcome)
	require.Equal(t, 1, f.repo.LedgerSize())

	// a stale copy of the session cannot rotate again
	_, err = f.store.Rotate(ctx, s, "hash-s-1-x", "")
	require.ErrorIs(t, err, sessions.ErrRotationConflict)
}

func TestReuseInsideGraceIsBenign(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.create(t, "s-1", "")
	rotated, err := f.store.Rotate(ctx, s, "hash-s-1-1", "")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Second)
	outcome, current, err := f.store.CheckReuse(ctx, rotated, "hash-s-1-0")
	require.NoError(t, err)
	require.Equal(t, sessions.ReuseBenignRetry, outcome)
	require.Equal(t, 1, current.RotationCount)

	_, err = f.store.Get(ctx, "s-1")
	require.NoError(t, err)
}

func TestReuseClassifiedAgainstStoredSession(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	// snapshot read before a concurrent refresh rotated the session
	stale := f.create(t, "s-1", "")
	_, err := f.store.Rotate(ctx, stale, "hash-s-1-1", "")
	require.NoError(t, err)

	f.now = f.now.Add(time.Second)
	outcome, current, err := f.store.CheckReuse(ctx, stale, "hash-s-1-0")
	require.NoError(t, err)
	require.Equal(t, sessions.ReuseBenignRetry, outcome)
	require.Equal(t, 1, current.RotationCount)
	require.Equal(t, "hash-s-1-1", current.RefreshTokenHash)

	// the returned session can rotate, the stale snapshot cannot
	_, err = f.store.Rotate(ctx, current, "hash-s-1-2", "")
	require.NoError(t, err)
}

func TestReuseAfterGraceInvalidatesWholeFamily(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.create(t, "s-1", "fam-1")
	sibling := f.create(t, "s-2", "fam-1")
	unrelated := f.create(t, "s-3", "")

	rotated, err := f.store.Rotate(ctx, s, "hash-s-1-1", "")
	require.NoError(t, err)
	_, err = f.store.Rotate(ctx, sibling, "hash-s-2-1", "")
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	outcome, _, err := f.store.CheckReuse(ctx, rotated, "hash-s-1-0")
	require.Equal(t, sessions.ReuseTheft, outcome)
	require.ErrorIs(t, err, sessions.ErrTokenReuse)
	require.Equal(t, autherrors.KindUnauthorized, autherrors.KindOf(err))

	_, err = f.store.Get(ctx, "s-1")
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	_, err = f.store.Get(ctx, "s-2")
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	_, err = f.store.Get(ctx, unrelated.ID)
	require.NoError(t, err)
	require.Equal(t, 0, f.repo.LedgerSize())
}

func TestReuseOfOlderGenerationIsTheftEvenInsideGrace(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.create(t, "s-1", "")
	s, err := f.store.Rotate(ctx, s, "hash-s-1-1", "")
	require.NoError(t, err)
	s, err = f.store.Rotate(ctx, s, "hash-s-1-2", "")
	require.NoError(t, err)

	outcome, _, err := f.store.CheckReuse(ctx, s, "hash-s-1-0")
	require.Equal(t, sessions.ReuseTheft, outcome)
	require.ErrorIs(t, err, sessions.ErrTokenReuse)
}

func TestDeleteCascadesLedgerAndState(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	verifier, err := pkce.NewVerifier()
	require.NoError(t, err)
	state, err := f.stateStore.Create(ctx, oauthstate.CreateParams{
		ProviderID:          1,
		ClientType:          clients.ClientTypeMobile,
		CodeChallenge:       pkce.ChallengeS256(verifier),
		CodeChallengeMethod: pkce.MethodS256,
	})
	require.NoError(t, err)

	s, err := f.store.Create(ctx, sessions.CreateParams{ID: "s-1", UserID: 1, RefreshTokenHash: "h0", OAuthStateID: &state.ID})
	require.NoError(t, err)
	_, err = f.store.Rotate(ctx, s, "h1", "")
	require.NoError(t, err)
	require.Equal(t, 1, f.repo.LedgerSize())

	require.ErrorIs(t, f.store.Delete(ctx, "s-1", 2), sessions.ErrWrongUser)
	require.NoError(t, f.store.Delete(ctx, "s-1", 1))

	_, err = f.store.Get(ctx, "s-1")
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
	require.Equal(t, 0, f.repo.LedgerSize())
	_, err = f.stateStore.Get(ctx, state.ID)
	require.ErrorIs(t, err, autherrors.ErrStateNotFound)

	require.ErrorIs(t, f.store.Delete(ctx, "s-1", 1), autherrors.ErrSessionNotFound)
}

func TestExchangeTokensOnce(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	stateID := "state-1"
	s, err := f.store.Create(ctx, sessions.CreateParams{ID: "s-1", UserID: 1, OAuthStateID: &stateID})
	require.NoError(t, err)

	require.NoError(t, f.store.ExchangeTokens(ctx, s, "h1", "c1"))
	require.ErrorIs(t, f.store.ExchangeTokens(ctx, s, "h2", "c2"), sessions.ErrAlreadyExchanged)

	stored, err := f.store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, stored.TokensExchanged)
	require.Nil(t, stored.OAuthStateID)
	require.Equal(t, "h1", stored.RefreshTokenHash)
}

func TestDeleteExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	f.create(t, "s-1", "")
	f.now = f.now.Add(12 * time.Hour)
	f.create(t, "s-2", "")
	f.now = f.now.Add(13 * time.Hour)

	n, err := f.store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = f.store.Get(ctx, "s-2")
	require.NoError(t, err)
}
