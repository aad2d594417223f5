package users

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AdminScopes are granted to the bootstrap account.
var AdminScopes = []string{"profile", "sessions:read", "sessions:write", "admin"}

// Creator is the part of a repository EnsureAdmin needs.
type Creator interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, u *User) (*User, error)
}

// EnsureAdmin creates the admin account if username is not registered yet.
// When password is empty a random one is generated and returned; an existing
// account returns an empty password.
func EnsureAdmin(ctx context.Context, repo Creator, username, password string) (generatedPassword string, err error) {
	if username == "" {
		return "", nil
	}

	existing, err := repo.GetByUsername(ctx, username)
	if err == nil && existing != nil {
		log.Debug().Str("username", username).Msg("admin account already exists")
		return "", nil
	}
	if err != nil && !errors.Is(err, autherrors.ErrNotFound) {
		return "", errors.Wrap(err, "[users.EnsureAdmin] GetByUsername")
	}

	generatedPassword = password
	if generatedPassword == "" {
		passwordBytes := make([]byte, 16)
		if _, err := rand.Read(passwordBytes); err != nil {
			return "", errors.Wrap(err, "[users.EnsureAdmin] rand.Read")
		}
		generatedPassword = base64.RawURLEncoding.EncodeToString(passwordBytes)
	}

	hash, err := HashPassword(generatedPassword)
	if err != nil {
		return "", errors.Wrap(err, "[users.EnsureAdmin]")
	}

	admin := &User{
		Username:     username,
		Name:         "Administrator",
		PasswordHash: hash,
		Active:       true,
		Scopes:       append([]string(nil), AdminScopes...),
	}
	if _, err := repo.Create(ctx, admin); err != nil {
		return "", errors.Wrap(err, "[users.EnsureAdmin] Create")
	}
	return generatedPassword, nil
}
