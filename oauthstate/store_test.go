package oauthstate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	"github.com/jrsteele09/go-session-auth/oauthstate/repofakes"
	"github.com/jrsteele09/go-session-auth/pkce"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	now   time.Time
	repo  *repofakes.FakeStateRepo
	store *oauthstate.Store
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		repo: repofakes.NewFakeStateRepo(),
	}
	f.store = oauthstate.NewStore(f.repo, oauthstate.WithNowFunc(func() time.Time { return f.now }))
	return f
}

func (f *testFixture) createWeb(t *testing.T) *oauthstate.State {
	t.Helper()
	s, err := f.store.Create(context.Background(), oauthstate.CreateParams{
		ProviderID: 1,
		Nonce:      "nonce",
		ClientType: clients.ClientTypeWeb,
		IPAddress:  "127.0.0.1",
	})
	require.NoError(t, err)
	return s
}

func TestCreateState(t *testing.T) {
	f := setupTestFixture(t)

	s := f.createWeb(t)
	require.GreaterOrEqual(t, len(s.ID), 43)
	require.Equal(t, f.now.Add(10*time.Minute), s.ExpiresAt)
	require.False(t, s.Used)
	require.NotEmpty(t, s.ProviderCodeVerifier)

	other := f.createWeb(t)
	require.NotEqual(t, s.ID, other.ID)
}

func TestCreateStatePKCERules(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	verifier, err := pkce.NewVerifier()
	require.NoError(t, err)
	challenge := pkce.ChallengeS256(verifier)

	cases := []struct {
		name   string
		params oauthstate.CreateParams
		kind   autherrors.Kind
	}{
		{"mobile without pkce", oauthstate.CreateParams{ClientType: clients.ClientTypeMobile}, autherrors.KindBadRequest},
		{"challenge without method", oauthstate.CreateParams{ClientType: clients.ClientTypeMobile, CodeChallenge: challenge}, autherrors.KindBadRequest},
		{"plain method", oauthstate.CreateParams{ClientType: clients.ClientTypeMobile, CodeChallenge: challenge, CodeChallengeMethod: "plain"}, autherrors.KindBadRequest},
		{"short challenge", oauthstate.CreateParams{ClientType: clients.ClientTypeMobile, CodeChallenge: "abc", CodeChallengeMethod: "S256"}, autherrors.KindBadRequest},
		{"unknown client", oauthstate.CreateParams{ClientType: "desktop"}, autherrors.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.store.Create(ctx, tc.params)
			require.Error(t, err)
			require.Equal(t, tc.kind, autherrors.KindOf(err))
		})
	}

	s, err := f.store.Create(ctx, oauthstate.CreateParams{
		ClientType:          clients.ClientTypeMobile,
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
	})
	require.NoError(t, err)
	require.Equal(t, challenge, s.CodeChallenge)
}

func TestLookupHidesUsedAndExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	s := f.createWeb(t)
	got, err := f.store.Lookup(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.Nonce, got.Nonce)

	_, err = f.store.Lookup(ctx, "does-not-exist")
	require.ErrorIs(t, err, autherrors.ErrStateNotFound)

	require.NoError(t, f.store.MarkUsed(ctx, s.ID))
	_, err = f.store.Lookup(ctx, s.ID)
	require.ErrorIs(t, err, autherrors.ErrStateNotFound)

	expired := f.createWeb(t)
	f.now = f.now.Add(oauthstate.Lifetime + time.Second)
	_, err = f.store.Lookup(ctx, expired.ID)
	require.ErrorIs(t, err, autherrors.ErrStateNotFound)
	require.ErrorIs(t, f.store.MarkUsed(ctx, expired.ID), autherrors.ErrStateNotFound)
}

func TestMarkUsedOnlyOnce(t *testing.T) {
	f := setupTestFixture(t)
	s := f.createWeb(t)

	require.NoError(t, f.store.MarkUsed(context.Background(), s.ID))
	require.ErrorIs(t, f.store.MarkUsed(context.Background(), s.ID), autherrors.ErrStateNotFound)
}

func TestMarkUsedConcurrentRedemption(t *testing.T) {
	f := setupTestFixture(t)

	for i := 0; i < 50; i++ {
		s := f.createWeb(t)

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for r := 0; r < 2; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := f.store.MarkUsed(context.Background(), s.ID); err == nil {
					wins.Add(1)
				} else {
					losses.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load())
		require.Equal(t, int32(1), losses.Load())
	}
}

func TestDeleteExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	old := f.createWeb(t)
	f.now = f.now.Add(9 * time.Minute)
	fresh := f.createWeb(t)
	f.now = f.now.Add(2 * time.Minute)

	n, err := f.store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = f.store.Get(ctx, old.ID)
	require.ErrorIs(t, err, autherrors.ErrStateNotFound)
	_, err = f.store.Lookup(ctx, fresh.ID)
	require.NoError(t, err)
}
