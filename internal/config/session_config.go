package config

import "time"

type Sessions struct{}

var _ SessionConfig = Sessions{}

func (Sessions) GetIdleTimeoutEnabled() bool {
	return GetBoolEnv("SESSION_IDLE_TIMEOUT_ENABLED", false)
}

func (Sessions) GetIdleTimeout() time.Duration {
	return time.Duration(GetIntEnv("SESSION_IDLE_TIMEOUT_HOURS", 1)) * time.Hour
}

func (Sessions) GetAbsoluteTimeout() time.Duration {
	return time.Duration(GetIntEnv("SESSION_ABSOLUTE_TIMEOUT_HOURS", 24)) * time.Hour
}

// GetReuseGracePeriod is how long a just-rotated refresh token is tolerated as a client retry.
func (Sessions) GetReuseGracePeriod() time.Duration {
	return time.Duration(GetIntEnv("REFRESH_REUSE_GRACE_SECONDS", 5)) * time.Second
}
