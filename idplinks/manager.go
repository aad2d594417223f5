package idplinks

import (
	"context"
	"time"

	"github.com/jrsteele09/go-session-auth/idp"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/internal/secretbox"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrSubjectLinkedElsewhere = autherrors.New(autherrors.KindConflict, "identity already linked to another account")

// ProviderSource resolves providers by id. *idp.Registry satisfies it.
type ProviderSource interface {
	GetByID(ctx context.Context, id int64) (idp.Provider, error)
}

// Summary counts the per-link outcomes of RefreshAll.
type Summary struct {
	Skipped   int
	Refreshed int
	Cleared   int
	Failed    int
}

type Manager struct {
	repo      Repo
	box       *secretbox.Box
	providers ProviderSource
	nowFunc   func() time.Time
}

type ManagerOption func(*Manager)

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(repo Repo, box *secretbox.Box, providers ProviderSource, options ...ManagerOption) *Manager {
	m := &Manager{
		repo:      repo,
		box:       box,
		providers: providers,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Link records a successful federated login or link for userID and stores the
// provider tokens encrypted. A subject already linked to another user is a conflict.
func (m *Manager) Link(ctx context.Context, userID, providerID int64, subject string, tokens idp.Tokens) (*Link, error) {
	if subject == "" {
		return nil, errors.New("[Manager.Link] subject is required")
	}

	existing, err := m.repo.FindBySubject(ctx, providerID, subject)
	if err != nil && !errors.Is(err, autherrors.ErrNotFound) {
		return nil, errors.Wrap(err, "[Manager.Link] FindBySubject")
	}
	if existing != nil && existing.UserID != userID {
		return nil, ErrSubjectLinkedElsewhere
	}

	now := m.nowFunc()
	link := &Link{
		UserID:     userID,
		ProviderID: providerID,
		Subject:    subject,
		LastLogin:  now,
	}
	if existing != nil {
		link.EncryptedRefreshToken = existing.EncryptedRefreshToken
		link.RefreshTokenUpdatedAt = existing.RefreshTokenUpdatedAt
		link.AccessTokenExpiresAt = existing.AccessTokenExpiresAt
	}

	if tokens.RefreshToken != "" {
		sealed, err := m.box.Seal(tokens.RefreshToken)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.Link] seal refresh token")
		}
		link.EncryptedRefreshToken = sealed
		link.RefreshTokenUpdatedAt = &now
	}
	if !tokens.Expiry.IsZero() {
		expiry := tokens.Expiry
		link.AccessTokenExpiresAt = &expiry
	}

	if err := m.repo.Upsert(ctx, link); err != nil {
		return nil, errors.Wrap(err, "[Manager.Link] Upsert")
	}
	return link, nil
}

// FindUserBySubject returns the local user linked to a provider subject.
func (m *Manager) FindUserBySubject(ctx context.Context, providerID int64, subject string) (int64, bool, error) {
	link, err := m.repo.FindBySubject(ctx, providerID, subject)
	if errors.Is(err, autherrors.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "[Manager.FindUserBySubject]")
	}
	return link.UserID, true, nil
}

func (m *Manager) ListLinks(ctx context.Context, userID int64) ([]*Link, error) {
	links, err := m.repo.ListByUser(ctx, userID)
	return links, errors.Wrap(err, "[Manager.ListLinks]")
}

// RefreshAll applies Classify to every link of userID. A failing link is
// logged and counted; it never stops the others and never returns an error.
func (m *Manager) RefreshAll(ctx context.Context, userID int64) Summary {
	var summary Summary

	links, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("listing identity provider links failed")
		summary.Failed++
		return summary
	}

	for _, link := range links {
		switch Classify(link, m.nowFunc()) {
		case ActionRefresh:
			if err := m.refresh(ctx, link); err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Int64("idp_id", link.ProviderID).Msg("identity provider token refresh failed")
				summary.Failed++
				continue
			}
			summary.Refreshed++
		case ActionClear:
			if err := m.repo.ClearTokens(ctx, link.UserID, link.ProviderID); err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Int64("idp_id", link.ProviderID).Msg("clearing aged identity provider token failed")
				summary.Failed++
				continue
			}
			log.Info().Int64("user_id", userID).Int64("idp_id", link.ProviderID).Msg("identity provider refresh token exceeded max age, cleared")
			summary.Cleared++
		default:
			summary.Skipped++
		}
	}
	return summary
}

func (m *Manager) refresh(ctx context.Context, link *Link) error {
	provider, err := m.providers.GetByID(ctx, link.ProviderID)
	if err != nil {
		return errors.Wrap(err, "provider lookup")
	}
	refreshToken, err := m.box.Open(link.EncryptedRefreshToken)
	if err != nil {
		return errors.Wrap(err, "open refresh token")
	}
	tokens, err := provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	sealed, err := m.box.Seal(tokens.RefreshToken)
	if err != nil {
		return errors.Wrap(err, "seal refresh token")
	}
	update := TokenUpdate{
		UserID:                link.UserID,
		ProviderID:            link.ProviderID,
		EncryptedRefreshToken: sealed,
		UpdatedAt:             m.nowFunc(),
	}
	if !tokens.Expiry.IsZero() {
		expiry := tokens.Expiry
		update.AccessTokenExpiresAt = &expiry
	}
	return m.repo.UpdateTokens(ctx, update)
}

// ClearAll drops the stored provider tokens of every link of userID,
// optionally revoking them at the provider first. Failures are logged only.
func (m *Manager) ClearAll(ctx context.Context, userID int64, revoke bool) {
	links, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("listing identity provider links failed")
		return
	}

	for _, link := range links {
		if !link.HasRefreshToken() {
			continue
		}
		if revoke {
			if err := m.revoke(ctx, link); err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Int64("idp_id", link.ProviderID).Msg("identity provider token revoke failed")
			}
		}
		if err := m.repo.ClearTokens(ctx, link.UserID, link.ProviderID); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Int64("idp_id", link.ProviderID).Msg("clearing identity provider token failed")
		}
	}
}

func (m *Manager) revoke(ctx context.Context, link *Link) error {
	provider, err := m.providers.GetByID(ctx, link.ProviderID)
	if err != nil {
		return errors.Wrap(err, "provider lookup")
	}
	refreshToken, err := m.box.Open(link.EncryptedRefreshToken)
	if err != nil {
		return errors.Wrap(err, "open refresh token")
	}
	return provider.Revoke(ctx, refreshToken)
}

// Unlink removes the link between userID and providerID.
func (m *Manager) Unlink(ctx context.Context, userID, providerID int64) error {
	if _, err := m.repo.Get(ctx, userID, providerID); err != nil {
		if errors.Is(err, autherrors.ErrNotFound) {
			return autherrors.New(autherrors.KindNotFound, "identity provider link not found")
		}
		return errors.Wrap(err, "[Manager.Unlink] Get")
	}
	return errors.Wrap(m.repo.Delete(ctx, userID, providerID), "[Manager.Unlink] Delete")
}
