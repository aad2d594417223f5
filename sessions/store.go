package sessions

import (
	"context"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionExpired   = autherrors.New(autherrors.KindUnauthorized, "session expired")
	ErrRotationConflict = autherrors.New(autherrors.KindUnauthorized, "session was refreshed concurrently")
	ErrWrongUser        = autherrors.New(autherrors.KindForbidden, "session belongs to another user")
	ErrAlreadyExchanged = autherrors.New(autherrors.KindConflict, "tokens already exchanged")
)

// CreateParams describes a new session.
type CreateParams struct {
	ID               string
	UserID           int64
	Device           DeviceInfo
	RefreshTokenHash string
	CSRFTokenHash    string
	OAuthStateID     *string
	// TokenFamilyID defaults to ID.
	TokenFamilyID string
}

type Store struct {
	repo               Repo
	nowFunc            func() time.Time
	idleTimeoutEnabled bool
	idleTimeout        time.Duration
	absoluteTimeout    time.Duration
	refreshExpiry      time.Duration
	reuseGrace         time.Duration
}

type StoreOption func(*Store)

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// WithIdleTimeout enables the inactivity cutoff.
func WithIdleTimeout(enabled bool, idle time.Duration) StoreOption {
	return func(s *Store) {
		s.idleTimeoutEnabled = enabled
		s.idleTimeout = idle
	}
}

func WithAbsoluteTimeout(absolute time.Duration) StoreOption {
	return func(s *Store) {
		s.absoluteTimeout = absolute
	}
}

// WithRefreshExpiry sets how far expires_at moves on each rotation.
func WithRefreshExpiry(d time.Duration) StoreOption {
	return func(s *Store) {
		s.refreshExpiry = d
	}
}

// WithReuseGracePeriod sets how long after a rotation the superseded token is
// treated as a client retry instead of theft.
func WithReuseGracePeriod(d time.Duration) StoreOption {
	return func(s *Store) {
		s.reuseGrace = d
	}
}

func NewStore(repo Repo, options ...StoreOption) *Store {
	s := &Store{
		repo:            repo,
		nowFunc:         time.Now,
		idleTimeout:     time.Hour,
		absoluteTimeout: 24 * time.Hour,
		refreshExpiry:   7 * 24 * time.Hour,
		reuseGrace:      5 * time.Second,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Create stores a new session with rotation_count 0.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if p.ID == "" {
		return nil, errors.New("[Store.Create] session id is required")
	}
	now := s.nowFunc()
	family := p.TokenFamilyID
	if family == "" {
		family = p.ID
	}

	session := &Session{
		ID:               p.ID,
		UserID:           p.UserID,
		RefreshTokenHash: p.RefreshTokenHash,
		CSRFTokenHash:    p.CSRFTokenHash,
		IPAddress:        p.Device.IPAddress,
		UserAgent:        p.Device.UserAgent,
		DeviceType:       p.Device.DeviceType,
		Browser:          p.Device.Browser,
		OS:               p.Device.OS,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        s.expiresAt(now, now),
		OAuthStateID:     p.OAuthStateID,
		TokenFamilyID:    family,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, errors.Wrap(err, "[Store.Create] repo.Create")
	}
	return session, nil
}

// Get returns the session or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, autherrors.ErrSessionNotFound
	}
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "[Store.Get] repo.Get")
	}
	return session, nil
}

// ListByUser returns every session of a user.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]*Session, error) {
	list, err := s.repo.ListByUser(ctx, userID)
	return list, errors.Wrap(err, "[Store.ListByUser] repo.ListByUser")
}

// ValidateTimeout applies the idle cutoff (when enabled) and the absolute
// cutoff independently.
func (s *Store) ValidateTimeout(session *Session) error {
	now := s.nowFunc()
	if s.idleTimeoutEnabled && now.After(session.LastActivityAt.Add(s.idleTimeout)) {
		log.Info().Str("session_id", session.ID).Msg("session idle timeout")
		return ErrSessionExpired
	}
	if now.After(session.CreatedAt.Add(s.absoluteTimeout)) {
		log.Info().Str("session_id", session.ID).Msg("session absolute timeout")
		return ErrSessionExpired
	}
	return nil
}

// Rotate installs a new refresh-token hash, ledgering the previous one.
// Family id and created_at never change.
func (s *Store) Rotate(ctx context.Context, session *Session, newHash, newCSRFHash string) (*Session, error) {
	now := s.nowFunc()
	p := RotateParams{
		SessionID:             session.ID,
		ExpectedRotationCount: session.RotationCount,
		PreviousHash:          session.RefreshTokenHash,
		NewHash:               newHash,
		NewCSRFHash:           newCSRFHash,
		TokenFamilyID:         session.TokenFamilyID,
		Now:                   now,
		ExpiresAt:             s.expiresAt(session.CreatedAt, now),
	}
	if err := s.repo.RotateWithLedger(ctx, p); err != nil {
		if autherrors.Is(err, ErrRotationConflict) {
			return nil, err
		}
		return nil, errors.Wrap(err, "[Store.Rotate] repo.RotateWithLedger")
	}

	rotated := session.Clone()
	rotated.RefreshTokenHash = newHash
	rotated.CSRFTokenHash = newCSRFHash
	rotated.LastActivityAt = now
	rotated.ExpiresAt = p.ExpiresAt
	rotated.RotationCount++
	rotated.LastRotationAt = &now
	return rotated, nil
}

// ExchangeTokens completes a pending mobile exchange exactly once.
func (s *Store) ExchangeTokens(ctx context.Context, session *Session, newHash, newCSRFHash string) error {
	ok, err := s.repo.ExchangeTokens(ctx, ExchangeParams{
		SessionID:   session.ID,
		NewHash:     newHash,
		NewCSRFHash: newCSRFHash,
		Now:         s.nowFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "[Store.ExchangeTokens] repo.ExchangeTokens")
	}
	if !ok {
		return ErrAlreadyExchanged
	}
	return nil
}

// Delete removes a session owned by userID. A missing session is ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, id string, userID int64) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		log.Warn().Str("session_id", id).Int64("user_id", userID).Msg("attempt to delete another user's session")
		return ErrWrongUser
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "[Store.Delete] repo.Delete")
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.nowFunc())
	return n, errors.Wrap(err, "[Store.DeleteExpired] repo.DeleteExpired")
}

func (s *Store) expiresAt(createdAt, now time.Time) time.Time {
	exp := now.Add(s.refreshExpiry)
	if limit := createdAt.Add(s.absoluteTimeout); s.absoluteTimeout > 0 && exp.After(limit) {
		return limit
	}
	return exp
}
