package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Login checks username and password. Users with MFA enabled get an MFA
// challenge; the login-failure counter is only reset once MFA succeeds.
func (s *Service) Login(ctx context.Context, client ClientInfo, username, password string) (*LoginResult, error) {
	if !client.Type.Valid() {
		return nil, autherrors.ErrInvalidClientType
	}
	if err := s.checkLockout(ctx, s.deps.LoginLockout, "login", username); err != nil {
		return nil, err
	}

	user, err := s.deps.Users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, autherrors.ErrNotFound) {
		return nil, errors.Wrap(err, "[Service.Login] GetByUsername")
	}

	var ok bool
	if user != nil {
		ok, err = s.deps.Credentials.VerifyPassword(ctx, user, password)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Login] VerifyPassword")
		}
	} else {
		// equal work for unknown usernames
		_, _ = users.CheckPassword(password, s.dummyHash())
	}
	if !ok {
		return nil, s.recordFailure(ctx, s.deps.LoginLockout, "password", username, autherrors.ErrInvalidCredentials)
	}

	if !user.Active {
		return nil, autherrors.ErrUserInactive
	}

	if user.MFAEnabled {
		if err := s.deps.PendingMFA.Add(ctx, username, user.ID); err != nil {
			return nil, errors.Wrap(err, "[Service.Login] PendingMFA.Add")
		}
		log.Info().Int64("user_id", user.ID).Msg("password verified, MFA required")
		return &LoginResult{MFARequired: true, Username: username}, nil
	}

	if err := s.deps.LoginLockout.Reset(ctx, username); err != nil {
		log.Err(err).Str("username", username).Msg("resetting login lockout failed")
	}
	issued, err := s.CompleteLogin(ctx, client, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: issued}, nil
}

// VerifyMFA completes a login that is waiting for its second factor.
func (s *Service) VerifyMFA(ctx context.Context, client ClientInfo, username, code string) (*IssuedSession, error) {
	if !client.Type.Valid() {
		return nil, autherrors.ErrInvalidClientType
	}
	if err := s.checkLockout(ctx, s.deps.MFALockout, "mfa", username); err != nil {
		return nil, err
	}

	userID, pending, err := s.deps.PendingMFA.Get(ctx, username)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.VerifyMFA] PendingMFA.Get")
	}
	if !pending {
		return nil, ErrNoPendingLogin
	}

	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.VerifyMFA] GetByID")
	}

	ok, err := s.deps.Credentials.VerifyMFACode(ctx, user, code)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.VerifyMFA] VerifyMFACode")
	}
	if !ok {
		count, err := s.deps.MFALockout.RecordFailedAttempt(ctx, username)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.VerifyMFA] RecordFailedAttempt")
		}
		s.observer.LoginFailed("mfa")
		log.Warn().Int64("user_id", user.ID).Int("failures", count).Msg("invalid MFA code")
		return nil, autherrors.Newf(autherrors.KindUnauthorized, "invalid MFA code (%d failed attempts)", count)
	}

	for _, counter := range []lockout.Counter{s.deps.LoginLockout, s.deps.MFALockout} {
		if err := counter.Reset(ctx, username); err != nil {
			log.Err(err).Str("username", username).Msg("resetting lockout failed")
		}
	}
	if err := s.deps.PendingMFA.Delete(ctx, username); err != nil {
		log.Err(err).Str("username", username).Msg("deleting pending MFA login failed")
	}

	if !user.Active {
		return nil, autherrors.ErrUserInactive
	}
	return s.CompleteLogin(ctx, client, user)
}

// CompleteLogin mints tokens and creates the session for an authenticated user.
func (s *Service) CompleteLogin(ctx context.Context, client ClientInfo, user *users.User) (*IssuedSession, error) {
	if !client.Type.Valid() {
		return nil, autherrors.ErrInvalidClientType
	}

	sessionID := uuid.NewString()
	tokens, err := s.deps.Tokens.CreateTokens(user.ID, sessionID, user.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CompleteLogin] CreateTokens")
	}

	if _, err := s.deps.Sessions.Create(ctx, sessions.CreateParams{
		ID:               sessionID,
		UserID:           user.ID,
		Device:           sessions.ParseDevice(client.IPAddress, client.UserAgent),
		RefreshTokenHash: token.HashToken(tokens.RefreshToken),
		CSRFTokenHash:    token.HashToken(tokens.CSRFToken),
	}); err != nil {
		return nil, errors.Wrap(err, "[Service.CompleteLogin] Sessions.Create")
	}

	s.touchLastLogin(ctx, user.ID)
	s.observer.SessionCreated(string(client.Type))
	log.Info().Int64("user_id", user.ID).Str("session_id", sessionID).Str("client_type", string(client.Type)).Msg("session created")

	return s.issue(sessionID, user.ID, client, tokens), nil
}

func (s *Service) issue(sessionID string, userID int64, client ClientInfo, tokens *token.Tokens) *IssuedSession {
	return &IssuedSession{
		SessionID:             sessionID,
		UserID:                userID,
		ClientType:            client.Type,
		AccessToken:           tokens.AccessToken,
		RefreshToken:          tokens.RefreshToken,
		CSRFToken:             tokens.CSRFToken,
		ExpiresIn:             int(s.deps.Tokens.AccessTokenExpiry().Seconds()),
		RefreshTokenExpiresAt: tokens.RefreshTokenExpiresAt,
	}
}

func (s *Service) touchLastLogin(ctx context.Context, userID int64) {
	if err := s.deps.Users.UpdateLastLogin(ctx, userID, s.nowFunc()); err != nil {
		log.Err(err).Int64("user_id", userID).Msg("updating last login failed")
	}
}

func (s *Service) checkLockout(ctx context.Context, counter lockout.Counter, name, username string) error {
	locked, remaining, err := counter.IsLockedOut(ctx, username)
	if err != nil {
		return errors.Wrapf(err, "[Service] %s lockout check", name)
	}
	if !locked {
		return nil
	}
	secs := lockout.SecondsRemaining(remaining)
	s.observer.LockedOut(name)
	log.Warn().Str("username", username).Str("counter", name).Int("seconds_remaining", secs).Msg("locked out")
	return autherrors.TooManyRequests(fmt.Sprintf("too many failed attempts, try again in %d seconds", secs), secs)
}

func (s *Service) recordFailure(ctx context.Context, counter lockout.Counter, stage, username string, cause error) error {
	count, err := counter.RecordFailedAttempt(ctx, username)
	if err != nil {
		return errors.Wrap(err, "[Service] RecordFailedAttempt")
	}
	s.observer.LoginFailed(stage)
	log.Warn().Str("username", username).Int("failures", count).Msg("failed login attempt")
	return cause
}
