package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	baseURLVar        = "BASE_URL"
	frontendURLVar    = "FRONTEND_URL"
	databaseURLVar    = "DATABASE_URL"
	redisURLVar       = "REDIS_URL"
	idpConfigFileVar  = "IDP_CONFIG_FILE"
	adminUserVar      = "ADMIN_USERNAME"
	adminPasswordVar  = "ADMIN_PASSWORD"
	defaultAppName    = "endurain"
	defaultBaseURL    = "http://localhost:8080"
	defaultDevEnvName = "DEV"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

// GetAppName is also used as the refresh cookie prefix.
func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, defaultAppName)
}

func (EnvVars) GetEnv() string {
	return GetEnv("ENV", defaultDevEnvName)
}

// GetBaseURL returns the public base URL of the API (e.g., "https://fit.example.com").
// The scheme decides whether cookies carry the Secure flag.
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, defaultBaseURL), "/")
}

// GetFrontendURL is where browser-facing SSO redirects land. Defaults to the base URL.
func (e EnvVars) GetFrontendURL() string {
	return strings.TrimRight(GetEnv(frontendURLVar, e.GetBaseURL()), "/")
}

func (EnvVars) GetDatabaseURL() string {
	return GetEnv(databaseURLVar, "")
}

func (EnvVars) GetRedisURL() string {
	return GetEnv(redisURLVar, "")
}

func (EnvVars) GetIdentityProviderFile() string {
	return GetEnv(idpConfigFileVar, "")
}

// GetAdminUsername names the account created on first start. Empty disables the bootstrap.
func (EnvVars) GetAdminUsername() string {
	return GetEnv(adminUserVar, "")
}

// GetAdminPassword is used for the bootstrap account; a random one is generated when unset.
func (EnvVars) GetAdminPassword() string {
	return GetEnv(adminPasswordVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetIntEnv(envVar string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetBoolEnv(envVar string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(envVar))
	if err != nil {
		return defaultValue
	}
	return value
}
