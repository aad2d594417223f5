package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
)

const opaqueTokenBytes = 32

// HashToken returns the hex SHA-256 of a raw token. Only hashes are persisted.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// HashEqual compares a raw token against a stored hash in constant time.
func HashEqual(raw, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(storedHash)) == 1
}

// NewOpaqueToken returns a URL-safe random string with 256 bits of entropy.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "[token.NewOpaqueToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
