package repofakes

import (
	"context"
	"sort"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/pkg/errors"
)

var _ sessions.Repo = (*FakeSessionRepo)(nil)

// StateDeleter removes OAuth states when a session cascades.
type StateDeleter interface {
	Delete(ctx context.Context, id string) error
}

// FakeSessionRepo keeps sessions and the rotation ledger under one lock so
// every multi-row operation is atomic.
type FakeSessionRepo struct {
	sessions map[string]*sessions.Session
	ledger   map[string]*sessions.RotatedRefreshToken // keyed by hashed token
	states   StateDeleter
	lock     sync.RWMutex
}

// NewFakeSessionRepo creates the repo. states may be nil.
func NewFakeSessionRepo(states StateDeleter) *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessions.Session),
		ledger:   make(map[string]*sessions.RotatedRefreshToken),
		states:   states,
	}
}

func (sr *FakeSessionRepo) Create(_ context.Context, session *sessions.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if _, exists := sr.sessions[session.ID]; exists {
		return autherrors.New(autherrors.KindConflict, "session already exists")
	}
	sr.sessions[session.ID] = session.Clone()
	return nil
}

func (sr *FakeSessionRepo) Get(_ context.Context, id string) (*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	session, ok := sr.sessions[id]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	return session.Clone(), nil
}

func (sr *FakeSessionRepo) ListByUser(_ context.Context, userID int64) ([]*sessions.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	list := make([]*sessions.Session, 0)
	for _, s := range sr.sessions {
		if s.UserID == userID {
			list = append(list, s.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (sr *FakeSessionRepo) RotateWithLedger(_ context.Context, p sessions.RotateParams) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[p.SessionID]
	if !ok {
		return autherrors.ErrNotFound
	}
	if session.RotationCount != p.ExpectedRotationCount {
		return sessions.ErrRotationConflict
	}

	sr.ledger[p.PreviousHash] = &sessions.RotatedRefreshToken{
		HashedToken:             p.PreviousHash,
		TokenFamilyID:           session.TokenFamilyID,
		RotationCountAtRotation: session.RotationCount,
		CreatedAt:               p.Now,
	}
	now := p.Now
	session.RefreshTokenHash = p.NewHash
	session.CSRFTokenHash = p.NewCSRFHash
	session.LastActivityAt = now
	session.ExpiresAt = p.ExpiresAt
	session.RotationCount++
	session.LastRotationAt = &now
	return nil
}

func (sr *FakeSessionRepo) FindRotated(_ context.Context, hashedToken string) (*sessions.RotatedRefreshToken, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	rec, ok := sr.ledger[hashedToken]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (sr *FakeSessionRepo) InvalidateFamily(ctx context.Context, familyID string) (int64, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	var n int64
	for id, s := range sr.sessions {
		if s.TokenFamilyID == familyID {
			if err := sr.deleteStateLocked(ctx, s); err != nil {
				return n, err
			}
			delete(sr.sessions, id)
			n++
		}
	}
	sr.deleteLedgerLocked(familyID)
	return n, nil
}

func (sr *FakeSessionRepo) ExchangeTokens(ctx context.Context, p sessions.ExchangeParams) (bool, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[p.SessionID]
	if !ok {
		return false, autherrors.ErrNotFound
	}
	if session.TokensExchanged {
		return false, nil
	}
	if err := sr.deleteStateLocked(ctx, session); err != nil {
		return false, err
	}
	session.TokensExchanged = true
	session.OAuthStateID = nil
	session.RefreshTokenHash = p.NewHash
	session.CSRFTokenHash = p.NewCSRFHash
	session.LastActivityAt = p.Now
	return true, nil
}

func (sr *FakeSessionRepo) Delete(ctx context.Context, id string) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return nil
	}
	if err := sr.deleteStateLocked(ctx, session); err != nil {
		return err
	}
	sr.deleteLedgerLocked(session.TokenFamilyID)
	delete(sr.sessions, id)
	return nil
}

func (sr *FakeSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	var n int64
	families := make(map[string]struct{})
	for id, s := range sr.sessions {
		if !now.Before(s.ExpiresAt) {
			if err := sr.deleteStateLocked(ctx, s); err != nil {
				return n, err
			}
			families[s.TokenFamilyID] = struct{}{}
			delete(sr.sessions, id)
			n++
		}
	}
	// keep ledger rows while a sibling of the family survives
	for _, s := range sr.sessions {
		delete(families, s.TokenFamilyID)
	}
	for family := range families {
		sr.deleteLedgerLocked(family)
	}
	return n, nil
}

// LedgerSize is the number of ledger rows, for tests.
func (sr *FakeSessionRepo) LedgerSize() int {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	return len(sr.ledger)
}

func (sr *FakeSessionRepo) deleteLedgerLocked(familyID string) {
	for hash, rec := range sr.ledger {
		if rec.TokenFamilyID == familyID {
			delete(sr.ledger, hash)
		}
	}
}

func (sr *FakeSessionRepo) deleteStateLocked(ctx context.Context, s *sessions.Session) error {
	if sr.states == nil || s.OAuthStateID == nil {
		return nil
	}
	return errors.Wrap(sr.states.Delete(ctx, *s.OAuthStateID), "[FakeSessionRepo] delete oauth state")
}
