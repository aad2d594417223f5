package repofakes

import (
	"context"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	"github.com/pkg/errors"
)

var _ oauthstate.Repo = (*FakeStateRepo)(nil)

// FakeStateRepo is a thread-safe in-memory oauthstate.Repo.
type FakeStateRepo struct {
	mu     sync.RWMutex
	states map[string]*oauthstate.State
}

func NewFakeStateRepo() *FakeStateRepo {
	return &FakeStateRepo{
		states: make(map[string]*oauthstate.State),
	}
}

func (r *FakeStateRepo) Create(_ context.Context, state *oauthstate.State) error {
	if state == nil || state.ID == "" {
		return errors.New("state id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[state.ID]; exists {
		return autherrors.New(autherrors.KindConflict, "oauth state already exists")
	}
	r.states[state.ID] = state.Clone()
	return nil
}

func (r *FakeStateRepo) Get(_ context.Context, id string) (*oauthstate.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, exists := r.states[id]
	if !exists {
		return nil, autherrors.ErrNotFound
	}
	return state.Clone(), nil
}

func (r *FakeStateRepo) MarkUsed(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[id]
	if !exists || !state.Redeemable(now) {
		return false, nil
	}
	state.Used = true
	return true, nil
}

func (r *FakeStateRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, id)
	return nil
}

func (r *FakeStateRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, state := range r.states {
		if !now.Before(state.ExpiresAt) {
			delete(r.states, id)
			n++
		}
	}
	return n, nil
}
