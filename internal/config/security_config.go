package config

import (
	"encoding/base64"
	"net/netip"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type SecurityConfig interface {
	GetEncryptionKey() ([]byte, error)
	GetProviderHTTPTimeout() time.Duration
	GetRevokeOnLogout() bool
	GetTrustedProxies() TrustedProxies
	IsSecureDeployment() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

// TrustedProxies are the peers whose X-Forwarded-For header is believed.
type TrustedProxies []netip.Prefix

func (t TrustedProxies) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetEncryptionKey decodes ENCRYPTION_KEY (standard or URL base64, 32 bytes).
func (Security) GetEncryptionKey() ([]byte, error) {
	raw := GetEnv("ENCRYPTION_KEY", "")
	if raw == "" {
		return nil, errors.New("[Security.GetEncryptionKey] ENCRYPTION_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrap(err, "[Security.GetEncryptionKey] ENCRYPTION_KEY is not valid base64")
		}
	}
	if len(key) != 32 {
		return nil, errors.Errorf("[Security.GetEncryptionKey] ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// GetProviderHTTPTimeout bounds every outbound call to an identity provider.
func (Security) GetProviderHTTPTimeout() time.Duration {
	return time.Duration(GetIntEnv("IDP_HTTP_TIMEOUT_SECONDS", 10)) * time.Second
}

// GetRevokeOnLogout revokes provider tokens at providers that publish a revocation endpoint.
func (Security) GetRevokeOnLogout() bool {
	return GetBoolEnv("IDP_REVOKE_ON_LOGOUT", true)
}

// GetTrustedProxies reads a comma separated TRUSTED_PROXIES list of
// addresses or CIDR ranges. Unparseable entries are logged and skipped.
func (Security) GetTrustedProxies() TrustedProxies {
	var proxies TrustedProxies
	for _, entry := range strings.Split(GetEnv("TRUSTED_PROXIES", ""), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parseProxy(entry)
		if err != nil {
			log.Warn().Err(err).Str("entry", entry).Msg("ignoring invalid TRUSTED_PROXIES entry")
			continue
		}
		proxies = append(proxies, prefix)
	}
	return proxies
}

func (Security) IsSecureDeployment() bool {
	return strings.HasPrefix(EnvVars{}.GetBaseURL(), "https://")
}

func parseProxy(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, errors.Wrap(err, "[parseProxy] ParsePrefix")
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, errors.Wrap(err, "[parseProxy] ParseAddr")
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
