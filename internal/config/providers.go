package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// IdentityProvider is one upstream OIDC provider entry of the IdP config file.
type IdentityProvider struct {
	ID            int64    `yaml:"id"`
	Slug          string   `yaml:"slug"`
	Name          string   `yaml:"name"`
	Issuer        string   `yaml:"issuer"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Enabled       bool     `yaml:"enabled"`
	Scopes        []string `yaml:"scopes"`
	RevocationURL string   `yaml:"revocation_url"`
}

type identityProviderFile struct {
	Providers []IdentityProvider `yaml:"providers"`
}

// LoadIdentityProviders reads the YAML provider file. An empty path yields no providers.
func LoadIdentityProviders(path string) ([]IdentityProvider, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "[LoadIdentityProviders] read identity provider file")
	}
	return ParseIdentityProviders(data)
}

// ParseIdentityProviders decodes and validates provider definitions.
func ParseIdentityProviders(data []byte) ([]IdentityProvider, error) {
	var file identityProviderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "[ParseIdentityProviders] parse identity provider file")
	}

	seen := make(map[string]struct{}, len(file.Providers))
	for i := range file.Providers {
		p := &file.Providers[i]
		if p.Slug == "" {
			return nil, errors.Errorf("[ParseIdentityProviders] identity provider %d: slug is required", i)
		}
		if _, dup := seen[p.Slug]; dup {
			return nil, errors.Errorf("[ParseIdentityProviders] identity provider %q defined twice", p.Slug)
		}
		seen[p.Slug] = struct{}{}
		if p.Issuer == "" || p.ClientID == "" {
			return nil, errors.Errorf("[ParseIdentityProviders] identity provider %q: issuer and client_id are required", p.Slug)
		}
		if p.ID == 0 {
			p.ID = int64(i + 1)
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"openid", "profile", "email"}
		}
	}
	return file.Providers, nil
}
