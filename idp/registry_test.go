package idp_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/idp"
	"github.com/jrsteele09/go-session-auth/idp/idpfake"
	"github.com/jrsteele09/go-session-auth/internal/config"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var testProviders = []config.IdentityProvider{
	{ID: 1, Slug: "google", Issuer: "https://accounts.example.test", ClientID: "a", Enabled: true},
	{ID: 2, Slug: "gitlab", Issuer: "https://gitlab.example.test", ClientID: "b", Enabled: false},
}

func TestRegistry_UnknownAndDisabled(t *testing.T) {
	r := idp.NewRegistry(testProviders, "https://api.example.test", time.Second,
		idp.WithFactory(idpfake.Factory(idpfake.New(1, "google"), idpfake.New(2, "gitlab"))))

	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, autherrors.ErrProviderNotFound)

	_, err = r.Get(context.Background(), "gitlab")
	require.ErrorIs(t, err, autherrors.ErrProviderNotFound)

	_, err = r.GetByID(context.Background(), 2)
	require.ErrorIs(t, err, autherrors.ErrProviderNotFound)

	_, err = r.GetByID(context.Background(), 99)
	require.ErrorIs(t, err, autherrors.ErrProviderNotFound)

	p, err := r.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "google", p.Slug())
}

func TestRegistry_DiscoversOnceAndCaches(t *testing.T) {
	var calls atomic.Int32
	var redirect string
	fake := idpfake.New(1, "google")
	factory := func(_ context.Context, cfg config.IdentityProvider, redirectURL string) (idp.Provider, error) {
		calls.Add(1)
		redirect = redirectURL
		time.Sleep(10 * time.Millisecond)
		return fake, nil
	}
	r := idp.NewRegistry(testProviders, "https://api.example.test", time.Second, idp.WithFactory(factory))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Get(context.Background(), "google")
			require.NoError(t, err)
			require.Equal(t, int64(1), p.ID())
		}()
	}
	wg.Wait()

	_, err := r.Get(context.Background(), "google")
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, "https://api.example.test/callback/google", redirect)
}

func TestRegistry_DiscoveryErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	factory := func(_ context.Context, cfg config.IdentityProvider, _ string) (idp.Provider, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("issuer unreachable")
		}
		return idpfake.New(cfg.ID, cfg.Slug), nil
	}
	r := idp.NewRegistry(testProviders, "https://api.example.test", time.Second, idp.WithFactory(factory))

	_, err := r.Get(context.Background(), "google")
	require.ErrorContains(t, err, "issuer unreachable")

	p, err := r.Get(context.Background(), "google")
	require.NoError(t, err)
	require.Equal(t, "google", p.Slug())
}
