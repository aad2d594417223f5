package mfa_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-auth/mfa"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryPendingStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := mfa.NewMemoryPendingStore(time.Minute, func() time.Time { return now })

	_, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Add(ctx, "alice", 7))
	id, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	require.NoError(t, s.Delete(ctx, "alice"))
	_, ok, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Add(ctx, "bob", 8))
	now = now.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Add(ctx, "carol", 9))
	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, s.Cleanup())
}

func TestRedisPendingStore(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := mfa.NewRedisPendingStore(client, time.Minute)

	require.NoError(t, s.Add(ctx, "alice", 7))
	id, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Add(ctx, "bob", 8))
	require.NoError(t, s.Delete(ctx, "bob"))
	_, ok, err = s.Get(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
}
