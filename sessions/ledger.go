package sessions

import (
	"context"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ReuseOutcome is the result of looking a presented refresh token up in the ledger.
type ReuseOutcome int

const (
	// ReuseNone means the token was never superseded.
	ReuseNone ReuseOutcome = iota
	// ReuseBenignRetry means the token was superseded by the latest rotation, inside the grace window.
	ReuseBenignRetry
	// ReuseTheft means a superseded token was replayed; the family has been invalidated.
	ReuseTheft
)

func (o ReuseOutcome) String() string {
	switch o {
	case ReuseBenignRetry:
		return "benign_retry"
	case ReuseTheft:
		return "theft"
	default:
		return "none"
	}
}

var ErrTokenReuse = autherrors.New(autherrors.KindUnauthorized, "refresh token reuse detected; all sessions have been invalidated")

// CheckReuse looks the hash of a presented refresh token up in the ledger.
// A hit is classified against the session as currently stored, since a
// concurrent refresh may have rotated it after the caller read it; the
// session to continue with is returned. On theft every session of the
// offending family is deleted and ErrTokenReuse is returned alongside ReuseTheft.
func (s *Store) CheckReuse(ctx context.Context, session *Session, presentedHash string) (ReuseOutcome, *Session, error) {
	rec, err := s.repo.FindRotated(ctx, presentedHash)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotFound) {
			return ReuseNone, session, nil
		}
		return ReuseNone, nil, errors.Wrap(err, "[Store.CheckReuse] repo.FindRotated")
	}

	current, err := s.repo.Get(ctx, session.ID)
	switch {
	case err == nil:
	case autherrors.Is(err, autherrors.ErrNotFound):
		current = session
	default:
		return ReuseNone, nil, errors.Wrap(err, "[Store.CheckReuse] repo.Get")
	}

	if s.isBenignRetry(current, rec) {
		log.Info().Str("session_id", current.ID).Int("rotation_count", current.RotationCount).Msg("refresh retry inside grace window")
		return ReuseBenignRetry, current, nil
	}

	n, err := s.InvalidateFamily(ctx, rec.TokenFamilyID)
	if err != nil {
		return ReuseTheft, nil, err
	}
	log.Warn().
		Str("token_family_id", rec.TokenFamilyID).
		Str("session_id", current.ID).
		Int64("user_id", current.UserID).
		Int64("sessions_deleted", n).
		Msg("refresh token reuse detected")
	return ReuseTheft, nil, ErrTokenReuse
}

// InvalidateFamily deletes every session sharing familyID together with its ledger rows.
func (s *Store) InvalidateFamily(ctx context.Context, familyID string) (int64, error) {
	n, err := s.repo.InvalidateFamily(ctx, familyID)
	if err != nil {
		return 0, errors.Wrap(err, "[Store.InvalidateFamily] repo.InvalidateFamily")
	}
	return n, nil
}

func (s *Store) isBenignRetry(session *Session, rec *RotatedRefreshToken) bool {
	if rec.TokenFamilyID != session.TokenFamilyID || session.LastRotationAt == nil {
		return false
	}
	if rec.RotationCountAtRotation != session.RotationCount-1 {
		return false
	}
	return s.nowFunc().Sub(*session.LastRotationAt) <= s.reuseGrace
}
