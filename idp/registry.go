package idp

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-auth/internal/config"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Factory builds a Provider from its configuration.
type Factory func(ctx context.Context, cfg config.IdentityProvider, redirectURL string) (Provider, error)

// Registry resolves enabled providers by slug or id. Discovery runs lazily,
// once per provider, and its result is cached.
type Registry struct {
	configs     map[string]config.IdentityProvider
	callbackURL func(slug string) string
	factory     Factory

	mu        sync.RWMutex
	providers map[string]Provider
	group     singleflight.Group
}

type RegistryOption func(*Registry)

// WithFactory replaces discovery-backed provider construction.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) {
		r.factory = f
	}
}

// NewRegistry creates a registry. Callback URLs are baseURL + "/callback/" + slug.
func NewRegistry(providers []config.IdentityProvider, baseURL string, timeout time.Duration, options ...RegistryOption) *Registry {
	r := &Registry{
		configs:   make(map[string]config.IdentityProvider, len(providers)),
		providers: make(map[string]Provider),
		callbackURL: func(slug string) string {
			return baseURL + "/callback/" + slug
		},
	}
	for _, p := range providers {
		r.configs[p.Slug] = p
	}
	r.factory = func(ctx context.Context, cfg config.IdentityProvider, redirectURL string) (Provider, error) {
		return NewOIDCProvider(ctx, cfg, redirectURL, timeout)
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Get returns the enabled provider for slug, or ErrProviderNotFound.
func (r *Registry) Get(ctx context.Context, slug string) (Provider, error) {
	cfg, ok := r.configs[slug]
	if !ok || !cfg.Enabled {
		return nil, autherrors.ErrProviderNotFound
	}

	r.mu.RLock()
	p, ok := r.providers[slug]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, _ := r.group.Do(slug, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.providers[slug]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		built, err := r.factory(ctx, cfg, r.callbackURL(slug))
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.providers[slug] = built
		r.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Registry.Get] %s", slug)
	}
	return v.(Provider), nil
}

// GetByID returns the enabled provider with the given id.
func (r *Registry) GetByID(ctx context.Context, id int64) (Provider, error) {
	for slug, cfg := range r.configs {
		if cfg.ID == id {
			return r.Get(ctx, slug)
		}
	}
	return nil, autherrors.ErrProviderNotFound
}
