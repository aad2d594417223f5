// Package lockout implements progressive brute-force lockout counters keyed by username.
package lockout

import (
	"context"
	"math"
	"time"
)

// Tier locks an identity for Duration once its failure count reaches Failures.
type Tier struct {
	Failures int
	Duration time.Duration
}

// Policy is an ascending list of tiers.
type Policy struct {
	Name  string
	Tiers []Tier
}

// LoginPolicy applies to password attempts.
var LoginPolicy = Policy{
	Name: "login",
	Tiers: []Tier{
		{Failures: 5, Duration: 5 * time.Minute},
		{Failures: 10, Duration: 30 * time.Minute},
		{Failures: 20, Duration: 24 * time.Hour},
	},
}

// MFAPolicy applies to second-factor codes.
var MFAPolicy = Policy{
	Name: "mfa",
	Tiers: []Tier{
		{Failures: 5, Duration: 5 * time.Minute},
		{Failures: 10, Duration: 30 * time.Minute},
		{Failures: 15, Duration: 2 * time.Hour},
	},
}

// LockoutFor returns the lockout triggered by reaching count, or zero.
func (p Policy) LockoutFor(count int) time.Duration {
	var d time.Duration
	for _, t := range p.Tiers {
		if count >= t.Failures {
			d = t.Duration
		}
	}
	return d
}

// Counter tracks failures per key. Implementations must be safe for concurrent use.
type Counter interface {
	// RecordFailedAttempt increments the count, locking when a tier is reached.
	// While locked it changes nothing and returns the current count.
	RecordFailedAttempt(ctx context.Context, key string) (int, error)

	// IsLockedOut reports an active lockout and its remaining time. An elapsed
	// lockout clears the key so the next failure counts from one.
	IsLockedOut(ctx context.Context, key string) (bool, time.Duration, error)

	Reset(ctx context.Context, key string) error
}

// SecondsRemaining rounds a remaining lockout up to whole seconds.
func SecondsRemaining(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
