// Package mfa holds logins that passed the password check and await a second factor.
package mfa

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultPendingTTL bounds how long a password-verified login waits for its code.
const DefaultPendingTTL = 5 * time.Minute

// PendingStore maps a username to the user awaiting MFA verification.
type PendingStore interface {
	Add(ctx context.Context, username string, userID int64) error
	// Get reports false when no unexpired login is pending.
	Get(ctx context.Context, username string) (int64, bool, error)
	Delete(ctx context.Context, username string) error
}

var (
	_ PendingStore = (*MemoryPendingStore)(nil)
	_ PendingStore = (*RedisPendingStore)(nil)
)

type pendingLogin struct {
	userID    int64
	expiresAt time.Time
}

// MemoryPendingStore is a process-local PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	pending map[string]pendingLogin
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewMemoryPendingStore(ttl time.Duration, now func() time.Time) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryPendingStore{
		pending: make(map[string]pendingLogin),
		ttl:     ttl,
		nowFunc: now,
	}
}

func (s *MemoryPendingStore) Add(_ context.Context, username string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[username] = pendingLogin{userID: userID, expiresAt: s.nowFunc().Add(s.ttl)}
	return nil
}

func (s *MemoryPendingStore) Get(_ context.Context, username string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[username]
	if !ok {
		return 0, false, nil
	}
	if !s.nowFunc().Before(p.expiresAt) {
		delete(s.pending, username)
		return 0, false, nil
	}
	return p.userID, true, nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, username)
	return nil
}

// Cleanup removes expired entries.
func (s *MemoryPendingStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	removed := 0
	for username, p := range s.pending {
		if !now.Before(p.expiresAt) {
			delete(s.pending, username)
			removed++
		}
	}
	return removed
}

// RedisPendingStore shares pending logins between instances; expiry is a key TTL.
type RedisPendingStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewRedisPendingStore(client redis.UniversalClient, ttl time.Duration) *RedisPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisPendingStore{redis: client, ttl: ttl}
}

func (s *RedisPendingStore) key(username string) string {
	return "mfa:pending:" + username
}

func (s *RedisPendingStore) Add(ctx context.Context, username string, userID int64) error {
	err := s.redis.Set(ctx, s.key(username), strconv.FormatInt(userID, 10), s.ttl).Err()
	return errors.Wrap(err, "[RedisPendingStore.Add]")
}

func (s *RedisPendingStore) Get(ctx context.Context, username string) (int64, bool, error) {
	id, err := s.redis.Get(ctx, s.key(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "[RedisPendingStore.Get]")
	}
	return id, true, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, username string) error {
	return errors.Wrap(s.redis.Del(ctx, s.key(username)).Err(), "[RedisPendingStore.Delete]")
}
