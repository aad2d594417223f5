package idp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var (
	_ Provider = (*OIDCProvider)(nil)

	ErrNonceMismatch  = errors.New("nonce mismatch")
	ErrMissingIDToken = errors.New("id_token missing in token response")
)

// OIDCProvider implements Provider with discovery, oauth2 and ID-token verification.
type OIDCProvider struct {
	cfg           config.IdentityProvider
	oauthConfig   *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	httpClient    *http.Client
	timeout       time.Duration
}

// NewOIDCProvider discovers the provider's endpoints. redirectURL is this server's callback.
func NewOIDCProvider(ctx context.Context, cfg config.IdentityProvider, redirectURL string, timeout time.Duration) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, errors.Errorf("issuer required for provider %s", cfg.Slug)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &OIDCProvider{
		cfg:           cfg,
		revocationURL: cfg.RevocationURL,
		httpClient:    &http.Client{Timeout: timeout},
		timeout:       timeout,
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	op, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "discover provider %s", cfg.Slug)
	}

	if p.revocationURL == "" {
		var extra struct {
			RevocationEndpoint string `json:"revocation_endpoint"`
		}
		if err := op.Claims(&extra); err == nil {
			p.revocationURL = extra.RevocationEndpoint
		}
	}

	endpoint := op.Endpoint()
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	p.oauthConfig = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
	p.verifier = op.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

func (p *OIDCProvider) ID() int64    { return p.cfg.ID }
func (p *OIDCProvider) Slug() string { return p.cfg.Slug }
func (p *OIDCProvider) Name() string { return p.cfg.Name }

func (p *OIDCProvider) AuthCodeURL(state, nonce, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if nonce != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier, expectedNonce string) (*ExchangeResult, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}
	tok, err := p.oauthConfig.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.Exchange] exchange code")
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.Exchange] verify id_token")
	}
	if expectedNonce != "" && idToken.Nonce != expectedNonce {
		return nil, ErrNonceMismatch
	}

	var claims struct {
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.Exchange] parse claims")
	}

	return &ExchangeResult{
		Identity: Identity{
			Subject:       idToken.Subject,
			Email:         claims.Email,
			EmailVerified: claims.EmailVerified,
			Name:          claims.Name,
			Username:      claims.PreferredUsername,
		},
		Tokens: Tokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		},
	}, nil
}

func (p *OIDCProvider) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	// an already-expired token forces the source to hit the token endpoint
	src := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.RefreshToken]")
	}

	refreshed := &Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshToken
	}
	return refreshed, nil
}

func (p *OIDCProvider) Revoke(ctx context.Context, token string) error {
	if p.revocationURL == "" {
		log.Debug().Str("provider", p.cfg.Slug).Msg("provider has no revocation endpoint")
		return nil
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	form := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
		"client_id":       {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[OIDCProvider.Revoke] new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "[OIDCProvider.Revoke]")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("[OIDCProvider.Revoke] provider returned %d", resp.StatusCode)
	}
	return nil
}

// callContext bounds a provider call by the provider timeout, detached from
// the caller's own deadline and cancellation.
func (p *OIDCProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	ctx = oidc.ClientContext(ctx, p.httpClient)
	return ctx, cancel
}
