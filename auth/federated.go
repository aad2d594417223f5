package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-auth/clients"
	"github.com/jrsteele09/go-session-auth/idp"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	"github.com/jrsteele09/go-session-auth/pkce"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoLinkedAccount  = autherrors.New(autherrors.KindNotFound, "no account for this identity")
	ErrNotPendingMobile = autherrors.New(autherrors.KindNotFound, "session not found")
	ErrProviderExchange = autherrors.New(autherrors.KindUnauthorized, "identity provider login failed")
)

// InitiateRequest starts a federated login, or links a provider to UserID.
type InitiateRequest struct {
	ProviderSlug        string
	Client              ClientInfo
	RedirectPath        string
	CodeChallenge       string
	CodeChallengeMethod string
	// UserID selects link mode.
	UserID *int64
}

// InitiateFederatedLogin persists a fresh OAuth state and returns the provider
// authorization URL to redirect to.
func (s *Service) InitiateFederatedLogin(ctx context.Context, req InitiateRequest) (string, error) {
	provider, err := s.deps.Providers.Get(ctx, req.ProviderSlug)
	if err != nil {
		return "", err
	}

	nonce, err := token.NewOpaqueToken()
	if err != nil {
		return "", errors.Wrap(err, "[Service.InitiateFederatedLogin] nonce")
	}

	state, err := s.deps.States.Create(ctx, oauthstate.CreateParams{
		ProviderID:          provider.ID(),
		Nonce:               nonce,
		ClientType:          req.Client.Type,
		IPAddress:           req.Client.IPAddress,
		RedirectPath:        safeRedirectPath(req.RedirectPath),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		UserID:              req.UserID,
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("provider", provider.Slug()).Str("client_type", string(req.Client.Type)).Bool("link_mode", state.IsLinkMode()).Msg("federated login initiated")
	return provider.AuthCodeURL(state.ID, nonce, pkce.ChallengeS256(state.ProviderCodeVerifier)), nil
}

// CallbackRequest is the provider's redirect back to this server.
type CallbackRequest struct {
	ProviderSlug string
	Code         string
	StateID      string
	IPAddress    string
	UserAgent    string
}

// CallbackResult tells the caller where to send the browser.
type CallbackResult struct {
	LinkMode     bool
	ClientType   clients.ClientType
	SessionID    string
	RedirectPath string
	// Session is set for web logins; its refresh token goes into the cookie.
	Session *IssuedSession
}

// FederatedCallback redeems the OAuth state, exchanges the authorization code
// and either links the provider or logs the user in. Mobile logins end with a
// pending session whose tokens are fetched through ExchangeMobileTokens.
func (s *Service) FederatedCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	provider, err := s.deps.Providers.Get(ctx, req.ProviderSlug)
	if err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, autherrors.New(autherrors.KindBadRequest, "authorization code missing")
	}

	state, err := s.deps.States.Lookup(ctx, req.StateID)
	if err != nil {
		return nil, err
	}
	if state.ProviderID != provider.ID() {
		return nil, autherrors.ErrStateNotFound
	}
	// redeem before the code leaves this server
	if err := s.deps.States.MarkUsed(ctx, state.ID); err != nil {
		return nil, err
	}

	exchanged, err := provider.Exchange(ctx, req.Code, state.ProviderCodeVerifier, state.Nonce)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider.Slug()).Msg("authorization code exchange failed")
		return nil, ErrProviderExchange
	}

	result := &CallbackResult{
		LinkMode:     state.IsLinkMode(),
		ClientType:   state.ClientType,
		RedirectPath: state.RedirectPath,
	}

	if state.IsLinkMode() {
		if _, err := s.deps.Links.Link(ctx, *state.UserID, provider.ID(), exchanged.Identity.Subject, exchanged.Tokens); err != nil {
			return nil, err
		}
		s.deleteState(ctx, state.ID)
		log.Info().Int64("user_id", *state.UserID).Str("provider", provider.Slug()).Msg("identity provider linked")
		return result, nil
	}

	user, err := s.resolveFederatedUser(ctx, provider.ID(), exchanged.Identity)
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Links.Link(ctx, user.ID, provider.ID(), exchanged.Identity.Subject, exchanged.Tokens); err != nil {
		return nil, err
	}

	client := ClientInfo{Type: state.ClientType, IPAddress: req.IPAddress, UserAgent: req.UserAgent}
	if state.ClientType.IsMobile() {
		sessionID, err := s.startPendingSession(ctx, client, user, state.ID)
		if err != nil {
			return nil, err
		}
		result.SessionID = sessionID
		return result, nil
	}

	issued, err := s.CompleteLogin(ctx, client, user)
	if err != nil {
		return nil, err
	}
	s.deleteState(ctx, state.ID)
	result.SessionID = issued.SessionID
	result.Session = issued
	return result, nil
}

func (s *Service) resolveFederatedUser(ctx context.Context, providerID int64, identity idp.Identity) (*users.User, error) {
	userID, found, err := s.deps.Links.FindUserBySubject(ctx, providerID, identity.Subject)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.resolveFederatedUser] FindUserBySubject")
	}

	var user *users.User
	switch {
	case found:
		user, err = s.deps.Users.GetByID(ctx, userID)
	case identity.EmailVerified && identity.Email != "":
		user, err = s.deps.Users.GetByEmail(ctx, identity.Email)
	default:
		return nil, ErrNoLinkedAccount
	}
	if errors.Is(err, autherrors.ErrNotFound) {
		return nil, ErrNoLinkedAccount
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Service.resolveFederatedUser] user lookup")
	}
	if !user.Active {
		return nil, autherrors.ErrUserInactive
	}
	return user, nil
}

// startPendingSession creates a session that holds no usable refresh token
// until the mobile client proves possession of its PKCE verifier.
func (s *Service) startPendingSession(ctx context.Context, client ClientInfo, user *users.User, stateID string) (string, error) {
	sessionID := uuid.NewString()
	if _, err := s.deps.Sessions.Create(ctx, sessions.CreateParams{
		ID:           sessionID,
		UserID:       user.ID,
		Device:       sessions.ParseDevice(client.IPAddress, client.UserAgent),
		OAuthStateID: &stateID,
	}); err != nil {
		return "", errors.Wrap(err, "[Service.startPendingSession] Sessions.Create")
	}
	s.touchLastLogin(ctx, user.ID)
	s.observer.SessionCreated(string(client.Type))
	log.Info().Int64("user_id", user.ID).Str("session_id", sessionID).Msg("mobile session pending token exchange")
	return sessionID, nil
}

// ExchangeMobileTokens hands the tokens of a pending mobile session to the
// client holding the PKCE verifier. It succeeds once per session.
func (s *Service) ExchangeMobileTokens(ctx context.Context, sessionID, codeVerifier string) (*IssuedSession, error) {
	session, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.TokensExchanged {
		return nil, sessions.ErrAlreadyExchanged
	}
	if session.OAuthStateID == nil {
		return nil, ErrNotPendingMobile
	}

	state, err := s.deps.States.Get(ctx, *session.OAuthStateID)
	if err != nil {
		if errors.Is(err, autherrors.ErrStateNotFound) {
			return nil, ErrNotPendingMobile
		}
		return nil, err
	}
	if !state.ClientType.IsMobile() || !s.nowFunc().Before(state.ExpiresAt) {
		return nil, ErrNotPendingMobile
	}
	if err := pkce.Verify(codeVerifier, state.CodeChallenge, state.CodeChallengeMethod); err != nil {
		log.Warn().Str("session_id", sessionID).Msg("PKCE verification failed on token exchange")
		return nil, err
	}

	user, err := s.deps.Users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ExchangeMobileTokens] GetByID")
	}
	if !user.Active {
		return nil, autherrors.ErrUserInactive
	}

	tokens, err := s.deps.Tokens.CreateTokens(user.ID, session.ID, user.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ExchangeMobileTokens] CreateTokens")
	}
	if err := s.deps.Sessions.ExchangeTokens(ctx, session, token.HashToken(tokens.RefreshToken), token.HashToken(tokens.CSRFToken)); err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", user.ID).Str("session_id", session.ID).Msg("mobile tokens exchanged")
	return s.issue(session.ID, user.ID, ClientInfo{Type: clients.ClientTypeMobile}, tokens), nil
}

func (s *Service) deleteState(ctx context.Context, id string) {
	if err := s.deps.States.Delete(ctx, id); err != nil {
		log.Err(err).Str("state_id", id).Msg("deleting oauth state failed")
	}
}

// safeRedirectPath keeps only same-origin absolute paths.
func safeRedirectPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return ""
	}
	return p
}
