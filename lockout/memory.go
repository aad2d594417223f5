package lockout

import (
	"context"
	"sync"
	"time"
)

var _ Counter = (*MemoryCounter)(nil)

type entry struct {
	count         int
	lockedUntil   time.Time
	lastFailureAt time.Time
}

// MemoryCounter is a process-local Counter. It is not shared between instances.
type MemoryCounter struct {
	policy  Policy
	nowFunc func() time.Time
	mu      sync.Mutex
	entries map[string]*entry
}

type MemoryOption func(*MemoryCounter)

func WithNowFunc(now func() time.Time) MemoryOption {
	return func(c *MemoryCounter) {
		c.nowFunc = now
	}
}

func NewMemoryCounter(policy Policy, options ...MemoryOption) *MemoryCounter {
	c := &MemoryCounter{
		policy:  policy,
		nowFunc: time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *MemoryCounter) RecordFailedAttempt(_ context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	e, ok := c.entries[key]
	if ok && !e.lockedUntil.IsZero() {
		if !now.After(e.lockedUntil) {
			return e.count, nil
		}
		ok = false
	}
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}

	e.count++
	e.lastFailureAt = now
	if d := c.policy.LockoutFor(e.count); d > 0 {
		e.lockedUntil = now.Add(d)
	}
	return e.count, nil
}

func (c *MemoryCounter) IsLockedOut(_ context.Context, key string) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.lockedUntil.IsZero() {
		return false, 0, nil
	}
	now := c.nowFunc()
	if now.After(e.lockedUntil) {
		delete(c.entries, key)
		return false, 0, nil
	}
	return true, e.lockedUntil.Sub(now), nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Count returns the stored failure count for key.
func (c *MemoryCounter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.count
	}
	return 0
}

// Cleanup drops elapsed lockouts and unlocked entries idle for longer than maxIdle.
func (c *MemoryCounter) Cleanup(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for key, e := range c.entries {
		elapsed := !e.lockedUntil.IsZero() && now.After(e.lockedUntil)
		idle := e.lockedUntil.IsZero() && now.Sub(e.lastFailureAt) > maxIdle
		if elapsed || idle {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
