package config

import "time"

type Tokens struct{}

var _ TokenConfig = Tokens{}

// GetSecretKey is the HMAC signing key. An empty key is rejected at startup.
func (Tokens) GetSecretKey() string {
	return GetEnv("SECRET_KEY", "")
}

// GetPrivateKeyFile points at a PEM encoded RSA or EC key. When set it replaces the HMAC secret.
func (Tokens) GetPrivateKeyFile() string {
	return GetEnv("JWT_PRIVATE_KEY_FILE", "")
}

func (Tokens) GetKeyID() string {
	return GetEnv("JWT_KEY_ID", "primary")
}

func (Tokens) GetAlgorithm() string {
	return GetEnv("ALGORITHM", "HS256")
}

func (Tokens) GetAccessTokenExpiry() time.Duration {
	return time.Duration(GetIntEnv("ACCESS_TOKEN_EXPIRE_MINUTES", 15)) * time.Minute
}

func (Tokens) GetRefreshTokenExpiry() time.Duration {
	return time.Duration(GetIntEnv("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour
}

func (Tokens) GetIssuer() string {
	return GetEnv("TOKEN_ISSUER", EnvVars{}.GetBaseURL())
}

func (Tokens) GetAudience() string {
	return GetEnv("TOKEN_AUDIENCE", EnvVars{}.GetAppName())
}
