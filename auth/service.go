// Package auth composes credential checks, lockout, tokens and sessions into
// the login, MFA, refresh, logout and federated-login flows.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	"github.com/jrsteele09/go-session-auth/credentials"
	"github.com/jrsteele09/go-session-auth/idp"
	"github.com/jrsteele09/go-session-auth/idplinks"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/mfa"
	"github.com/jrsteele09/go-session-auth/oauth2"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/pkg/errors"
)

var (
	ErrCSRFMismatch   = autherrors.New(autherrors.KindUnauthorized, "invalid CSRF token")
	ErrInvalidSession = autherrors.New(autherrors.KindUnauthorized, "invalid session")
	ErrNoPendingLogin = autherrors.New(autherrors.KindBadRequest, "no pending login")
)

// ProviderSource resolves identity providers. *idp.Registry satisfies it.
type ProviderSource interface {
	Get(ctx context.Context, slug string) (idp.Provider, error)
	GetByID(ctx context.Context, id int64) (idp.Provider, error)
}

// Deps holds every collaborator of the Service.
type Deps struct {
	Users        users.UserRepo
	Credentials  *credentials.Verifier
	Tokens       *token.Manager
	Sessions     *sessions.Store
	States       *oauthstate.Store
	Providers    ProviderSource
	Links        *idplinks.Manager
	LoginLockout lockout.Counter
	MFALockout   lockout.Counter
	PendingMFA   mfa.PendingStore
}

// ClientInfo describes the caller of a flow.
type ClientInfo struct {
	Type      clients.ClientType
	IPAddress string
	UserAgent string
}

// IssuedSession is a newly created or rotated session with its tokens.
type IssuedSession struct {
	SessionID             string
	UserID                int64
	ClientType            clients.ClientType
	AccessToken           string
	RefreshToken          string
	CSRFToken             string
	ExpiresIn             int
	RefreshTokenExpiresAt time.Time
}

// Response builds the JSON body. Web clients get the refresh token as a cookie
// instead, so it is left out for them.
func (s *IssuedSession) Response() oauth2.TokenResponse {
	resp := oauth2.TokenResponse{
		AccessToken: s.AccessToken,
		CSRFToken:   s.CSRFToken,
		SessionID:   s.SessionID,
		ExpiresIn:   s.ExpiresIn,
		TokenType:   oauth2.TokenTypeBearer,
	}
	if !s.ClientType.IsWeb() {
		resp.RefreshToken = s.RefreshToken
	}
	return resp
}

// LoginResult is either an MFA challenge or an issued session.
type LoginResult struct {
	MFARequired bool
	Username    string
	Session     *IssuedSession
}

// Observer receives security events. The metrics package implements it.
type Observer interface {
	LoginFailed(stage string)
	LockedOut(counter string)
	RefreshCompleted(outcome string)
	SessionCreated(clientType string)
}

type nopObserver struct{}

func (nopObserver) LoginFailed(string)      {}
func (nopObserver) LockedOut(string)        {}
func (nopObserver) RefreshCompleted(string) {}
func (nopObserver) SessionCreated(string)   {}

type Service struct {
	deps           Deps
	observer       Observer
	nowFunc        func() time.Time
	runTask        func(task func())
	taskTimeout    time.Duration
	revokeOnLogout bool
	dummyHash      func() string
}

type ServiceOption func(*Service)

func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		s.observer = o
	}
}

// WithTaskRunner replaces how background work is started (default: a goroutine).
func WithTaskRunner(run func(task func())) ServiceOption {
	return func(s *Service) {
		s.runTask = run
	}
}

// WithTaskTimeout bounds background provider calls.
func WithTaskTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.taskTimeout = d
	}
}

// WithRevokeOnLogout revokes provider refresh tokens at the provider on logout.
func WithRevokeOnLogout(revoke bool) ServiceOption {
	return func(s *Service) {
		s.revokeOnLogout = revoke
	}
}

func NewService(deps Deps, options ...ServiceOption) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("[NewService] Users repo is required")
	case deps.Credentials == nil:
		return nil, errors.New("[NewService] Credentials verifier is required")
	case deps.Tokens == nil:
		return nil, errors.New("[NewService] Tokens manager is required")
	case deps.Sessions == nil:
		return nil, errors.New("[NewService] Sessions store is required")
	case deps.States == nil:
		return nil, errors.New("[NewService] States store is required")
	case deps.Providers == nil:
		return nil, errors.New("[NewService] Providers are required")
	case deps.Links == nil:
		return nil, errors.New("[NewService] Links manager is required")
	case deps.LoginLockout == nil || deps.MFALockout == nil:
		return nil, errors.New("[NewService] lockout counters are required")
	case deps.PendingMFA == nil:
		return nil, errors.New("[NewService] PendingMFA store is required")
	}

	s := &Service{
		deps:        deps,
		observer:    nopObserver{},
		nowFunc:     time.Now,
		runTask:     func(task func()) { go task() },
		taskTimeout: 30 * time.Second,
		dummyHash: sync.OnceValue(func() string {
			h, _ := users.HashPassword("not-a-real-password")
			return h
		}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}
