package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/pkce"
	"github.com/pkg/errors"
)

const idBytes = 32

// CreateParams describes a new federated-login attempt.
type CreateParams struct {
	ProviderID          int64
	Nonce               string
	ClientType          clients.ClientType
	IPAddress           string
	RedirectPath        string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              *int64
}

type Store struct {
	repo    Repo
	nowFunc func() time.Time
}

type StoreOption func(*Store)

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(repo Repo, options ...StoreOption) *Store {
	s := &Store{
		repo:    repo,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Create persists a new state with a fixed Lifetime. PKCE parameters must come
// together, are required for mobile clients and are validated when present.
func (s *Store) Create(ctx context.Context, p CreateParams) (*State, error) {
	if !p.ClientType.Valid() {
		return nil, autherrors.ErrInvalidClientType
	}
	if (p.CodeChallenge == "") != (p.CodeChallengeMethod == "") {
		return nil, autherrors.New(autherrors.KindBadRequest, "code_challenge and code_challenge_method must be provided together")
	}
	if p.ClientType.IsMobile() && p.CodeChallenge == "" {
		return nil, autherrors.New(autherrors.KindBadRequest, "PKCE is required for mobile clients")
	}
	if p.CodeChallenge != "" {
		if err := pkce.ValidateChallenge(p.CodeChallenge, p.CodeChallengeMethod); err != nil {
			return nil, err
		}
	}

	id, err := newStateID()
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Create] newStateID")
	}
	providerVerifier, err := pkce.NewVerifier()
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Create] pkce.NewVerifier")
	}

	now := s.nowFunc()
	state := &State{
		ID:                   id,
		ProviderID:           p.ProviderID,
		Nonce:                p.Nonce,
		ClientType:           p.ClientType,
		IPAddress:            p.IPAddress,
		RedirectPath:         p.RedirectPath,
		CodeChallenge:        p.CodeChallenge,
		CodeChallengeMethod:  p.CodeChallengeMethod,
		ProviderCodeVerifier: providerVerifier,
		UserID:               p.UserID,
		CreatedAt:            now,
		ExpiresAt:            now.Add(Lifetime),
	}
	if err := s.repo.Create(ctx, state); err != nil {
		return nil, errors.Wrap(err, "[Store.Create] repo.Create")
	}
	return state, nil
}

// Lookup returns a redeemable state. Missing, used and expired states are
// all reported as ErrStateNotFound.
func (s *Store) Lookup(ctx context.Context, id string) (*State, error) {
	if id == "" {
		return nil, autherrors.ErrStateNotFound
	}
	state, err := s.repo.Get(ctx, id)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrStateNotFound
		}
		return nil, errors.Wrap(err, "[Store.Lookup] repo.Get")
	}
	if !state.Redeemable(s.nowFunc()) {
		return nil, autherrors.ErrStateNotFound
	}
	return state, nil
}

// MarkUsed redeems the state. Exactly one caller can succeed; every other
// caller gets ErrStateNotFound.
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	ok, err := s.repo.MarkUsed(ctx, id, s.nowFunc())
	if err != nil {
		return errors.Wrap(err, "[Store.MarkUsed] repo.MarkUsed")
	}
	if !ok {
		return autherrors.ErrStateNotFound
	}
	return nil
}

// Get returns the state regardless of its redemption status.
func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	state, err := s.repo.Get(ctx, id)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return nil, autherrors.ErrStateNotFound
		}
		return nil, errors.Wrap(err, "[Store.Get] repo.Get")
	}
	return state, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// DeleteExpired removes states whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.nowFunc())
}

func newStateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
