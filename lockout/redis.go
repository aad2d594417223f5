package lockout

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Counter = (*RedisCounter)(nil)

// recordScript: KEYS = count, until; ARGV = now_ms, retention_ms, then tier pairs (failures, duration_ms).
var recordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local retention = tonumber(ARGV[2])
local until_ms = tonumber(redis.call('GET', KEYS[2]) or '0')
if until_ms > 0 then
	if now <= until_ms then
		return tonumber(redis.call('GET', KEYS[1]) or '0')
	end
	redis.call('DEL', KEYS[1], KEYS[2])
end
local count = redis.call('INCR', KEYS[1])
local lock = 0
for i = 3, #ARGV, 2 do
	if count >= tonumber(ARGV[i]) then
		lock = tonumber(ARGV[i + 1])
	end
end
if lock > 0 then
	redis.call('SET', KEYS[2], now + lock, 'PX', lock + retention)
	redis.call('PEXPIRE', KEYS[1], lock + retention)
else
	redis.call('PEXPIRE', KEYS[1], retention)
end
return count
`)

// checkScript returns the remaining lockout in ms, or -1 when not locked.
var checkScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local until_ms = tonumber(redis.call('GET', KEYS[2]) or '0')
if until_ms == 0 then
	return -1
end
if now > until_ms then
	redis.call('DEL', KEYS[1], KEYS[2])
	return -1
end
return until_ms - now
`)

// RedisCounter shares lockout state between instances.
type RedisCounter struct {
	redis     redis.UniversalClient
	policy    Policy
	prefix    string
	retention time.Duration
	nowFunc   func() time.Time
}

type RedisOption func(*RedisCounter)

func WithRedisNowFunc(now func() time.Time) RedisOption {
	return func(c *RedisCounter) {
		c.nowFunc = now
	}
}

// WithRetention sets how long an unlocked failure count survives without new failures.
func WithRetention(d time.Duration) RedisOption {
	return func(c *RedisCounter) {
		c.retention = d
	}
}

func NewRedisCounter(client redis.UniversalClient, policy Policy, options ...RedisOption) *RedisCounter {
	c := &RedisCounter{
		redis:     client,
		policy:    policy,
		prefix:    "lockout:" + policy.Name + ":",
		retention: 24 * time.Hour,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *RedisCounter) keys(key string) []string {
	return []string{c.prefix + "count:" + key, c.prefix + "until:" + key}
}

func (c *RedisCounter) RecordFailedAttempt(ctx context.Context, key string) (int, error) {
	args := []any{c.nowFunc().UnixMilli(), c.retention.Milliseconds()}
	for _, t := range c.policy.Tiers {
		args = append(args, t.Failures, t.Duration.Milliseconds())
	}

	count, err := recordScript.Run(ctx, c.redis, c.keys(key), args...).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "[RedisCounter.RecordFailedAttempt]")
	}
	return int(count), nil
}

func (c *RedisCounter) IsLockedOut(ctx context.Context, key string) (bool, time.Duration, error) {
	remaining, err := checkScript.Run(ctx, c.redis, c.keys(key), c.nowFunc().UnixMilli()).Int64()
	if err != nil {
		return false, 0, errors.Wrap(err, "[RedisCounter.IsLockedOut]")
	}
	if remaining < 0 {
		return false, 0, nil
	}
	return true, time.Duration(remaining) * time.Millisecond, nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return errors.Wrap(c.redis.Del(ctx, c.keys(key)...).Err(), "[RedisCounter.Reset]")
}

// Count returns the stored failure count for key.
func (c *RedisCounter) Count(ctx context.Context, key string) (int, error) {
	v, err := c.redis.Get(ctx, c.keys(key)[0]).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "[RedisCounter.Count]")
	}
	n, err := strconv.Atoi(v)
	return n, errors.Wrap(err, "[RedisCounter.Count] Atoi")
}
