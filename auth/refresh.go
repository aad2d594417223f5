package auth

import (
	"context"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RefreshRequest carries what a client presents to rotate its session.
type RefreshRequest struct {
	Client       ClientInfo
	RefreshToken string
	// CSRFToken is the X-CSRF-Token header value, empty when absent.
	CSRFToken string
}

// Refresh rotates the session behind a refresh token and issues new tokens.
// Replaying an already rotated token outside the grace window invalidates
// the whole token family.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*IssuedSession, error) {
	if !req.Client.Type.Valid() {
		return nil, autherrors.ErrInvalidClientType
	}

	claims, err := s.deps.Tokens.ParseRefreshToken(req.RefreshToken)
	if err != nil {
		s.observer.RefreshCompleted("invalid_token")
		return nil, err
	}

	session, err := s.refreshableSession(ctx, claims)
	if err != nil {
		s.observer.RefreshCompleted("invalid_session")
		return nil, err
	}

	if err := s.deps.Sessions.ValidateTimeout(session); err != nil {
		if delErr := s.deps.Sessions.Delete(ctx, session.ID, session.UserID); delErr != nil {
			log.Err(delErr).Str("session_id", session.ID).Msg("deleting timed out session failed")
		}
		s.observer.RefreshCompleted("expired")
		return nil, err
	}

	// an absent header is tolerated once per page load; a present one must match
	if req.Client.Type.IsWeb() && req.CSRFToken != "" {
		if session.CSRFTokenHash == "" || !token.HashEqual(req.CSRFToken, session.CSRFTokenHash) {
			log.Warn().Str("session_id", session.ID).Msg("CSRF token mismatch on refresh")
			s.observer.RefreshCompleted("csrf_mismatch")
			return nil, ErrCSRFMismatch
		}
	}

	presented := token.HashToken(req.RefreshToken)
	var (
		outcome sessions.ReuseOutcome
		user    *users.User
		tokens  *token.Tokens
	)
	for attempt := 0; ; attempt++ {
		outcome, session, err = s.deps.Sessions.CheckReuse(ctx, session, presented)
		if err != nil {
			if outcome == sessions.ReuseTheft {
				s.observer.RefreshCompleted(outcome.String())
			}
			return nil, err
		}
		if outcome == sessions.ReuseNone && !token.HashEqual(req.RefreshToken, session.RefreshTokenHash) {
			log.Warn().Str("session_id", session.ID).Msg("refresh token does not match session")
			s.observer.RefreshCompleted("invalid_token")
			return nil, autherrors.ErrInvalidToken
		}

		if user == nil {
			if user, tokens, err = s.reissue(ctx, session); err != nil {
				return nil, err
			}
		}
		_, err = s.deps.Sessions.Rotate(ctx, session, token.HashToken(tokens.RefreshToken), token.HashToken(tokens.CSRFToken))
		if err == nil {
			break
		}
		if attempt > 0 || !errors.Is(err, sessions.ErrRotationConflict) {
			s.observer.RefreshCompleted("conflict")
			return nil, err
		}

		// a concurrent refresh rotated first; classify again against its result
		log.Debug().Str("session_id", session.ID).Msg("refresh lost rotation race, retrying")
		if session, err = s.refreshableSession(ctx, claims); err != nil {
			s.observer.RefreshCompleted("invalid_session")
			return nil, err
		}
	}

	s.refreshProviderLinks(ctx, user.ID)

	if outcome == sessions.ReuseBenignRetry {
		s.observer.RefreshCompleted(outcome.String())
	} else {
		s.observer.RefreshCompleted("rotated")
	}
	return s.issue(session.ID, user.ID, req.Client, tokens), nil
}

// reissue loads the session owner and mints its next token pair.
func (s *Service) reissue(ctx context.Context, session *sessions.Session) (*users.User, *token.Tokens, error) {
	user, err := s.deps.Users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Service.Refresh] GetByID")
	}
	if !user.Active {
		if delErr := s.deps.Sessions.Delete(ctx, session.ID, session.UserID); delErr != nil {
			log.Err(delErr).Str("session_id", session.ID).Msg("deleting session of inactive user failed")
		}
		return nil, nil, autherrors.ErrUserInactive
	}

	tokens, err := s.deps.Tokens.CreateTokens(user.ID, session.ID, user.Scopes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[Service.Refresh] CreateTokens")
	}
	return user, tokens, nil
}

func (s *Service) refreshableSession(ctx context.Context, claims *token.Claims) (*sessions.Session, error) {
	session, err := s.deps.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, autherrors.ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if session.UserID != claims.Subject {
		log.Warn().Str("session_id", session.ID).Int64("token_sub", claims.Subject).Msg("refresh token subject does not own session")
		return nil, ErrInvalidSession
	}
	// a mobile federated session is unusable until its tokens are exchanged
	if session.OAuthStateID != nil && !session.TokensExchanged {
		return nil, ErrInvalidSession
	}
	return session, nil
}

// refreshProviderLinks runs the identity provider refresh policy in the
// background. Its outcome never reaches the caller.
func (s *Service) refreshProviderLinks(ctx context.Context, userID int64) {
	bg := context.WithoutCancel(ctx)
	s.runTask(func() {
		ctx, cancel := context.WithTimeout(bg, s.taskTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Int64("user_id", userID).Msg("identity provider refresh panicked")
			}
		}()
		summary := s.deps.Links.RefreshAll(ctx, userID)
		if summary.Refreshed+summary.Cleared+summary.Failed > 0 {
			log.Debug().
				Int64("user_id", userID).
				Int("refreshed", summary.Refreshed).
				Int("cleared", summary.Cleared).
				Int("failed", summary.Failed).
				Msg("identity provider links refreshed")
		}
	})
}

// LogoutRequest carries the tokens of the session to end.
type LogoutRequest struct {
	ClientType   clients.ClientType
	AccessToken  string
	RefreshToken string
}

// Logout deletes the session and clears the user's provider tokens. A session
// that is already gone is not an error.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) error {
	access, err := s.deps.Tokens.ParseAccessToken(req.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.deps.Tokens.ParseRefreshToken(req.RefreshToken)
	if err != nil {
		return err
	}
	if access.SessionID != refresh.SessionID || access.Subject != refresh.Subject {
		return autherrors.ErrInvalidToken
	}

	session, err := s.deps.Sessions.Get(ctx, refresh.SessionID)
	switch {
	case errors.Is(err, autherrors.ErrSessionNotFound):
		log.Debug().Str("session_id", refresh.SessionID).Msg("logout for missing session")
	case err != nil:
		return err
	default:
		if !token.HashEqual(req.RefreshToken, session.RefreshTokenHash) {
			return autherrors.ErrInvalidToken
		}
		if err := s.deps.Sessions.Delete(ctx, session.ID, access.Subject); err != nil && !errors.Is(err, autherrors.ErrSessionNotFound) {
			return err
		}
	}

	if err := s.deps.Tokens.RevokeAccessToken(req.AccessToken); err != nil {
		log.Err(err).Str("session_id", refresh.SessionID).Msg("revoking access token failed")
	}
	s.deps.Links.ClearAll(ctx, access.Subject, s.revokeOnLogout)

	log.Info().Int64("user_id", access.Subject).Str("session_id", refresh.SessionID).Msg("logged out")
	return nil
}
