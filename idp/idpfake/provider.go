// Package idpfake provides an in-memory idp.Provider for tests.
package idpfake

import (
	"context"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-session-auth/idp"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/pkg/errors"
)

var _ idp.Provider = (*Provider)(nil)

// Provider records calls and returns configured results.
type Provider struct {
	ProviderID   int64
	ProviderSlug string
	AuthURL      string

	Result     *idp.ExchangeResult
	ExchangeFn func(code, codeVerifier, nonce string) (*idp.ExchangeResult, error)
	Refreshed  *idp.Tokens
	RefreshErr error
	RevokeErr  error

	mu            sync.Mutex
	ExchangeCalls int
	RefreshCalls  []string
	RevokeCalls   []string
}

func New(id int64, slug string) *Provider {
	return &Provider{
		ProviderID:   id,
		ProviderSlug: slug,
		AuthURL:      "https://idp.example.test/authorize",
	}
}

func (p *Provider) ID() int64    { return p.ProviderID }
func (p *Provider) Slug() string { return p.ProviderSlug }
func (p *Provider) Name() string { return p.ProviderSlug }

func (p *Provider) AuthCodeURL(state, nonce, codeChallenge string) string {
	q := url.Values{
		"state":                 {state},
		"nonce":                 {nonce},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return p.AuthURL + "?" + q.Encode()
}

func (p *Provider) Exchange(_ context.Context, code, codeVerifier, expectedNonce string) (*idp.ExchangeResult, error) {
	p.mu.Lock()
	p.ExchangeCalls++
	p.mu.Unlock()

	if p.ExchangeFn != nil {
		return p.ExchangeFn(code, codeVerifier, expectedNonce)
	}
	if p.Result == nil {
		return nil, errors.New("exchange failed")
	}
	r := *p.Result
	return &r, nil
}

func (p *Provider) RefreshToken(_ context.Context, refreshToken string) (*idp.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.RefreshCalls = append(p.RefreshCalls, refreshToken)
	if p.RefreshErr != nil {
		return nil, p.RefreshErr
	}
	if p.Refreshed == nil {
		return nil, errors.New("refresh failed")
	}
	t := *p.Refreshed
	return &t, nil
}

func (p *Provider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.RevokeCalls = append(p.RevokeCalls, token)
	return p.RevokeErr
}

// Factory returns an idp.Factory serving the given fakes by slug.
func Factory(providers ...*Provider) idp.Factory {
	bySlug := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		bySlug[p.ProviderSlug] = p
	}
	return func(_ context.Context, cfg config.IdentityProvider, _ string) (idp.Provider, error) {
		p, ok := bySlug[cfg.Slug]
		if !ok {
			return nil, errors.Errorf("no fake for %s", cfg.Slug)
		}
		return p, nil
	}
}
