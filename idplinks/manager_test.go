package idplinks_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/idp"
	"github.com/jrsteele09/go-session-auth/idp/idpfake"
	"github.com/jrsteele09/go-session-auth/idplinks"
	"github.com/jrsteele09/go-session-auth/idplinks/repofakes"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/secretbox"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerMap map[int64]idp.Provider

func (m providerMap) GetByID(_ context.Context, id int64) (idp.Provider, error) {
	p, ok := m[id]
	if !ok {
		return nil, autherrors.ErrProviderNotFound
	}
	return p, nil
}

type testFixture struct {
	repo    *repofakes.FakeLinkRepo
	box     *secretbox.Box
	google  *idpfake.Provider
	gitlab  *idpfake.Provider
	manager *idplinks.Manager
	now     time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)

	f := &testFixture{
		repo:   repofakes.NewFakeLinkRepo(),
		box:    box,
		google: idpfake.New(1, "google"),
		gitlab: idpfake.New(2, "gitlab"),
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = idplinks.NewManager(f.repo, box, providerMap{1: f.google, 2: f.gitlab},
		idplinks.WithNowFunc(func() time.Time { return f.now }))
	return f
}

func TestLink_EncryptsRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	link, err := f.manager.Link(ctx, 7, 1, "sub-7", idp.Tokens{RefreshToken: "google-rt", Expiry: f.now.Add(time.Hour)})
	require.NoError(t, err)
	require.NotEqual(t, "google-rt", link.EncryptedRefreshToken)

	plain, err := f.box.Open(link.EncryptedRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "google-rt", plain)

	userID, found, err := f.manager.FindUserBySubject(ctx, 1, "sub-7")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(7), userID)

	_, found, err = f.manager.FindUserBySubject(ctx, 1, "nobody")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLink_KeepsTokenWhenProviderOmitsIt(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	first, err := f.manager.Link(ctx, 7, 1, "sub-7", idp.Tokens{RefreshToken: "google-rt"})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second, err := f.manager.Link(ctx, 7, 1, "sub-7", idp.Tokens{AccessToken: "at"})
	require.NoError(t, err)
	require.Equal(t, first.EncryptedRefreshToken, second.EncryptedRefreshToken)
	require.Equal(t, f.now, second.LastLogin)
}

func TestLink_SubjectOwnedByAnotherUser(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Link(ctx, 7, 1, "sub-7", idp.Tokens{})
	require.NoError(t, err)

	_, err = f.manager.Link(ctx, 8, 1, "sub-7", idp.Tokens{})
	require.ErrorIs(t, err, idplinks.ErrSubjectLinkedElsewhere)
	require.Equal(t, autherrors.KindConflict, autherrors.KindOf(err))
}

func TestRefreshAll_IsolatesFailures(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	// both links are inside the refresh window; gitlab fails
	_, err := f.manager.Link(ctx, 7, 1, "g-sub", idp.Tokens{RefreshToken: "google-rt", Expiry: f.now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = f.manager.Link(ctx, 7, 2, "l-sub", idp.Tokens{RefreshToken: "gitlab-rt", Expiry: f.now.Add(time.Minute)})
	require.NoError(t, err)

	f.gitlab.RefreshErr = errors.New("provider down")
	f.google.Refreshed = &idp.Tokens{AccessToken: "new-at", RefreshToken: "google-rt-2", Expiry: f.now.Add(time.Hour)}

	summary := f.manager.RefreshAll(ctx, 7)
	assert.Equal(t, idplinks.Summary{Refreshed: 1, Failed: 1}, summary)
	assert.Equal(t, []string{"google-rt"}, f.google.RefreshCalls)
	assert.Equal(t, []string{"gitlab-rt"}, f.gitlab.RefreshCalls)

	link, err := f.repo.Get(ctx, 7, 1)
	require.NoError(t, err)
	plain, err := f.box.Open(link.EncryptedRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "google-rt-2", plain)
	require.Equal(t, f.now.Add(time.Hour), *link.AccessTokenExpiresAt)
}

func TestRefreshAll_ClearsAgedAndSkipsFresh(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Link(ctx, 7, 1, "g-sub", idp.Tokens{RefreshToken: "google-rt", Expiry: f.now.Add(100 * 24 * time.Hour)})
	require.NoError(t, err)
	f.now = f.now.Add(91 * 24 * time.Hour)
	_, err = f.manager.Link(ctx, 7, 2, "l-sub", idp.Tokens{RefreshToken: "gitlab-rt", Expiry: f.now.Add(time.Hour)})
	require.NoError(t, err)

	summary := f.manager.RefreshAll(ctx, 7)
	assert.Equal(t, idplinks.Summary{Skipped: 1, Cleared: 1}, summary)

	link, err := f.repo.Get(ctx, 7, 1)
	require.NoError(t, err)
	require.False(t, link.HasRefreshToken())
	require.Empty(t, f.google.RefreshCalls)
}

func TestRefreshAll_ListFailureIsSwallowed(t *testing.T) {
	f := setupTestFixture(t)
	f.repo.ListErr = errors.New("db down")

	summary := f.manager.RefreshAll(context.Background(), 7)
	require.Equal(t, 1, summary.Failed)
}

func TestClearAll_RevokesAndClears(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Link(ctx, 7, 1, "g-sub", idp.Tokens{RefreshToken: "google-rt"})
	require.NoError(t, err)
	_, err = f.manager.Link(ctx, 7, 2, "l-sub", idp.Tokens{RefreshToken: "gitlab-rt"})
	require.NoError(t, err)
	f.google.RevokeErr = errors.New("revoke failed")

	f.manager.ClearAll(ctx, 7, true)

	assert.Equal(t, []string{"google-rt"}, f.google.RevokeCalls)
	assert.Equal(t, []string{"gitlab-rt"}, f.gitlab.RevokeCalls)
	links, err := f.manager.ListLinks(ctx, 7)
	require.NoError(t, err)
	require.Len(t, links, 2)
	for _, l := range links {
		assert.False(t, l.HasRefreshToken())
	}
}

func TestClearAll_WithoutRevoke(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Link(ctx, 7, 1, "g-sub", idp.Tokens{RefreshToken: "google-rt"})
	require.NoError(t, err)

	f.manager.ClearAll(ctx, 7, false)
	require.Empty(t, f.google.RevokeCalls)

	link, err := f.repo.Get(ctx, 7, 1)
	require.NoError(t, err)
	require.False(t, link.HasRefreshToken())
}

func TestUnlink(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Link(ctx, 7, 1, "g-sub", idp.Tokens{})
	require.NoError(t, err)

	require.NoError(t, f.manager.Unlink(ctx, 7, 1))
	err = f.manager.Unlink(ctx, 7, 1)
	require.Equal(t, autherrors.KindNotFound, autherrors.KindOf(err))
}
