package credentials

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-auth/internal/secretbox"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/pkg/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Verifier checks passwords and second-factor codes against stored user state.
type Verifier struct {
	userRepo users.UserRepo
	box      *secretbox.Box
	nowFunc  func() time.Time
}

type VerifierOption func(*Verifier)

func WithNowFunc(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.nowFunc = now
	}
}

// NewVerifier creates a Verifier. box decrypts stored TOTP secrets.
func NewVerifier(userRepo users.UserRepo, box *secretbox.Box, options ...VerifierOption) *Verifier {
	v := &Verifier{
		userRepo: userRepo,
		box:      box,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// VerifyPassword checks password against the user's stored hash. A matching
// legacy hash is replaced by an argon2id hash; failing to store it is logged only.
func (v *Verifier) VerifyPassword(ctx context.Context, user *users.User, password string) (bool, error) {
	ok, err := users.CheckPassword(password, user.PasswordHash)
	if err != nil {
		return false, errors.Wrap(err, "[Verifier.VerifyPassword] CheckPassword")
	}
	if !ok {
		return false, nil
	}

	if users.NeedsRehash(user.PasswordHash) {
		hash, err := users.HashPassword(password)
		if err != nil {
			log.Err(err).Int64("user_id", user.ID).Msg("password rehash failed")
			return true, nil
		}
		if err := v.userRepo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
			log.Err(err).Int64("user_id", user.ID).Msg("storing upgraded password hash failed")
			return true, nil
		}
		user.PasswordHash = hash
		log.Info().Int64("user_id", user.ID).Msg("password hash upgraded to argon2id")
	}
	return true, nil
}

// VerifyMFACode accepts either a current TOTP code or an unused backup code.
// A matched backup code is consumed. A TOTP code is only accepted for a time
// step later than the last one accepted for the user.
func (v *Verifier) VerifyMFACode(ctx context.Context, user *users.User, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" || !user.MFAEnabled {
		return false, nil
	}

	if isTOTPCode(code) && user.MFASecret != "" {
		secret, err := v.box.Open(user.MFASecret)
		if err != nil {
			return false, errors.Wrap(err, "[Verifier.VerifyMFACode] decrypt totp secret")
		}
		step, ok, err := matchTOTPStep(code, secret, v.nowFunc())
		if err != nil {
			return false, errors.Wrap(err, "[Verifier.VerifyMFACode] matchTOTPStep")
		}
		if ok {
			recorded, err := v.userRepo.RecordTOTPStep(ctx, user.ID, step)
			if err != nil {
				return false, errors.Wrap(err, "[Verifier.VerifyMFACode] RecordTOTPStep")
			}
			if !recorded {
				log.Warn().Int64("user_id", user.ID).Msg("replayed totp code rejected")
			}
			return recorded, nil
		}
	}

	consumed, err := v.userRepo.ConsumeBackupCode(ctx, user.ID, HashBackupCode(code))
	if err != nil {
		return false, errors.Wrap(err, "[Verifier.VerifyMFACode] ConsumeBackupCode")
	}
	if consumed {
		log.Info().Int64("user_id", user.ID).Msg("backup code consumed")
	}
	return consumed, nil
}

// HashBackupCode normalizes a backup code (case, dashes, spaces) and returns its SHA-256 hex digest.
func HashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(code))
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// matchTOTPStep finds the time step within the skew window that code was generated for.
func matchTOTPStep(code, secret string, now time.Time) (int64, bool, error) {
	period := int64(totpOpts.Period)
	current := now.Unix() / period
	for step := current - int64(totpOpts.Skew); step <= current+int64(totpOpts.Skew); step++ {
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), totpOpts)
		if err != nil {
			return 0, false, errors.Wrap(err, "[matchTOTPStep] totp.GenerateCodeCustom")
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
