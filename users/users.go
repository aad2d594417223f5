package users

import (
	"time"
)

// User is the account record the authentication core reads.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"` // never serialize
	Active       bool      `json:"active"`
	Scopes       []string  `json:"scopes,omitempty"` // granted to every token the user receives
	LastLogin    time.Time `json:"last_login,omitempty"`

	MFAEnabled bool `json:"mfa_enabled"`
	// MFASecret is the TOTP secret sealed with internal/secretbox.
	MFASecret string `json:"-"`
	// BackupCodeHashes are SHA-256 hex digests of unused backup codes.
	BackupCodeHashes []string `json:"-"`
}

// Clone returns a deep copy so repositories never share slices with callers.
func (u *User) Clone() *User {
	c := *u
	c.Scopes = append([]string(nil), u.Scopes...)
	c.BackupCodeHashes = append([]string(nil), u.BackupCodeHashes...)
	return &c
}
