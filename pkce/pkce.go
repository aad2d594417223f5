// Package pkce implements the S256 Proof Key for Code Exchange checks of RFC 7636.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
)

const (
	MethodS256 = "S256"

	minLength      = 43
	maxLength      = 128
	verifierQBytes = 32
)

var (
	// ErrInvalidChallenge is returned for a malformed login-side challenge.
	ErrInvalidChallenge = autherrors.New(autherrors.KindBadRequest, "invalid PKCE code challenge")
	// ErrVerificationFailed is the single error for every verifier failure.
	ErrVerificationFailed = autherrors.New(autherrors.KindBadRequest, "invalid code verifier")
)

// ValidateChallenge checks the challenge sent when a mobile login is initiated.
func ValidateChallenge(challenge, method string) error {
	if method != MethodS256 {
		return ErrInvalidChallenge
	}
	if len(challenge) < minLength || len(challenge) > maxLength {
		return ErrInvalidChallenge
	}
	for i := 0; i < len(challenge); i++ {
		if !isBase64URL(challenge[i]) {
			return ErrInvalidChallenge
		}
	}
	return nil
}

// Verify checks a code verifier against the stored challenge.
func Verify(verifier, challenge, method string) error {
	if method != MethodS256 || challenge == "" {
		return ErrVerificationFailed
	}
	if len(verifier) < minLength || len(verifier) > maxLength {
		return ErrVerificationFailed
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return ErrVerificationFailed
		}
	}

	computed := ChallengeS256(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrVerificationFailed
	}
	return nil
}

// ChallengeS256 derives the S256 challenge for a verifier.
func ChallengeS256(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// NewVerifier returns a random 43 character verifier.
func NewVerifier() (string, error) {
	b := make([]byte, verifierQBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func isBase64URL(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

// isUnreserved matches the RFC 3986 unreserved set allowed in verifiers.
func isUnreserved(c byte) bool {
	return isBase64URL(c) || c == '.' || c == '~'
}
