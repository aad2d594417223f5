package users_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-session-auth/users"
	fakeuserrepo "github.com/jrsteele09/go-session-auth/users/repofake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdmin_GeneratesPassword(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()
	ctx := context.Background()

	password, err := users.EnsureAdmin(ctx, repo, "admin", "")
	require.NoError(t, err)
	require.NotEmpty(t, password)

	admin, err := repo.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.Active)
	assert.Equal(t, users.AdminScopes, admin.Scopes)

	ok, err := users.CheckPassword(password, admin.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	// second start leaves the account alone
	again, err := users.EnsureAdmin(ctx, repo, "admin", "other")
	require.NoError(t, err)
	assert.Empty(t, again)

	ok, err = users.CheckPassword(password, admin.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureAdmin_UsesConfiguredPassword(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	password, err := users.EnsureAdmin(context.Background(), repo, "root", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "correct horse", password)
}

func TestEnsureAdmin_DisabledWithoutUsername(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	password, err := users.EnsureAdmin(context.Background(), repo, "", "")
	require.NoError(t, err)
	assert.Empty(t, password)

	_, err = repo.GetByID(context.Background(), 1)
	require.Error(t, err)
}
