package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	SessionConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetFrontendURL() string
	GetDatabaseURL() string
	GetRedisURL() string
	GetIdentityProviderFile() string
	GetAdminUsername() string
	GetAdminPassword() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type TokenConfig interface {
	GetSecretKey() string
	GetPrivateKeyFile() string
	GetKeyID() string
	GetAlgorithm() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetIssuer() string
	GetAudience() string
}

type SessionConfig interface {
	GetIdleTimeoutEnabled() bool
	GetIdleTimeout() time.Duration
	GetAbsoluteTimeout() time.Duration
	GetReuseGracePeriod() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Tokens
	Sessions
	Security
}

func New() Config {
	return mainConfig{}
}
