package repofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-session-auth/idplinks"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

var _ idplinks.Repo = (*FakeLinkRepo)(nil)

type linkKey struct {
	userID     int64
	providerID int64
}

// FakeLinkRepo is a thread-safe in-memory idplinks.Repo.
type FakeLinkRepo struct {
	mu    sync.RWMutex
	links map[linkKey]*idplinks.Link

	// ListErr, when set, is returned by ListByUser.
	ListErr error
}

func NewFakeLinkRepo() *FakeLinkRepo {
	return &FakeLinkRepo{
		links: make(map[linkKey]*idplinks.Link),
	}
}

func (r *FakeLinkRepo) Upsert(_ context.Context, link *idplinks.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, l := range r.links {
		if l.ProviderID == link.ProviderID && l.Subject == link.Subject && k.userID != link.UserID {
			return autherrors.New(autherrors.KindConflict, "identity already linked")
		}
	}
	r.links[linkKey{link.UserID, link.ProviderID}] = link.Clone()
	return nil
}

func (r *FakeLinkRepo) Get(_ context.Context, userID, providerID int64) (*idplinks.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[linkKey{userID, providerID}]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	return link.Clone(), nil
}

func (r *FakeLinkRepo) ListByUser(_ context.Context, userID int64) ([]*idplinks.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ListErr != nil {
		return nil, r.ListErr
	}
	var links []*idplinks.Link
	for k, l := range r.links {
		if k.userID == userID {
			links = append(links, l.Clone())
		}
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ProviderID < links[j].ProviderID })
	return links, nil
}

func (r *FakeLinkRepo) FindBySubject(_ context.Context, providerID int64, subject string) (*idplinks.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.links {
		if l.ProviderID == providerID && l.Subject == subject {
			return l.Clone(), nil
		}
	}
	return nil, autherrors.ErrNotFound
}

func (r *FakeLinkRepo) UpdateTokens(_ context.Context, u idplinks.TokenUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[linkKey{u.UserID, u.ProviderID}]
	if !ok {
		return autherrors.ErrNotFound
	}
	updatedAt := u.UpdatedAt
	link.EncryptedRefreshToken = u.EncryptedRefreshToken
	link.RefreshTokenUpdatedAt = &updatedAt
	if u.AccessTokenExpiresAt != nil {
		expiry := *u.AccessTokenExpiresAt
		link.AccessTokenExpiresAt = &expiry
	} else {
		link.AccessTokenExpiresAt = nil
	}
	return nil
}

func (r *FakeLinkRepo) ClearTokens(_ context.Context, userID, providerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[linkKey{userID, providerID}]
	if !ok {
		return autherrors.ErrNotFound
	}
	link.EncryptedRefreshToken = ""
	link.AccessTokenExpiresAt = nil
	link.RefreshTokenUpdatedAt = nil
	return nil
}

func (r *FakeLinkRepo) Delete(_ context.Context, userID, providerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.links, linkKey{userID, providerID})
	return nil
}
