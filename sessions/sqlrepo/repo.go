package sqlrepo

import (
	"context"
	"database/sql"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const sessionColumns = `id, user_id, refresh_token, csrf_token_hash, ip_address, user_agent,
	device_type, browser, os, created_at, last_activity_at, expires_at, oauth_state_id,
	tokens_exchanged, token_family_id, rotation_count, last_rotation_at`

var _ sessions.Repo = (*Repo)(nil)

// Repo stores sessions and the rotation ledger in postgres.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSchema applies Schema.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "[sessions.Repo.EnsureSchema]")
}

func (r *Repo) Create(ctx context.Context, s *sessions.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, s.ID, s.UserID, s.RefreshTokenHash, nullString(s.CSRFTokenHash), s.IPAddress, s.UserAgent,
		s.DeviceType, s.Browser, s.OS, s.CreatedAt, s.LastActivityAt, s.ExpiresAt, nullStringPtr(s.OAuthStateID),
		s.TokensExchanged, s.TokenFamilyID, s.RotationCount, nullTime(s.LastRotationAt))

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return autherrors.New(autherrors.KindConflict, "session already exists")
	}
	return errors.Wrap(err, "[sessions.Repo.Create]")
}

func (r *Repo) Get(ctx context.Context, id string) (*sessions.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrNotFound
	}
	return s, errors.Wrap(err, "[sessions.Repo.Get]")
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]*sessions.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[sessions.Repo.ListByUser]")
	}
	defer rows.Close()

	list := make([]*sessions.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[sessions.Repo.ListByUser] scan")
		}
		list = append(list, s)
	}
	return list, errors.Wrap(rows.Err(), "[sessions.Repo.ListByUser] rows")
}

func (r *Repo) RotateWithLedger(ctx context.Context, p sessions.RotateParams) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET refresh_token = $1, csrf_token_hash = $2, last_activity_at = $3, expires_at = $4,
				rotation_count = rotation_count + 1, last_rotation_at = $3
			WHERE id = $5 AND rotation_count = $6
		`, p.NewHash, nullString(p.NewCSRFHash), p.Now, p.ExpiresAt, p.SessionID, p.ExpectedRotationCount)
		if err != nil {
			return errors.Wrap(err, "update session")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "RowsAffected")
		}
		if n != 1 {
			return sessions.ErrRotationConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rotated_refresh_tokens (hashed_token, token_family_id, rotation_count_at_rotation, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (hashed_token) DO NOTHING
		`, p.PreviousHash, p.TokenFamilyID, p.ExpectedRotationCount, p.Now)
		return errors.Wrap(err, "insert ledger row")
	})
}

func (r *Repo) FindRotated(ctx context.Context, hashedToken string) (*sessions.RotatedRefreshToken, error) {
	var rec sessions.RotatedRefreshToken
	err := r.db.QueryRowContext(ctx, `
		SELECT hashed_token, token_family_id, rotation_count_at_rotation, created_at
		FROM rotated_refresh_tokens
		WHERE hashed_token = $1
	`, hashedToken).Scan(&rec.HashedToken, &rec.TokenFamilyID, &rec.RotationCountAtRotation, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[sessions.Repo.FindRotated]")
	}
	return &rec, nil
}

func (r *Repo) InvalidateFamily(ctx context.Context, familyID string) (int64, error) {
	var deleted int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM oauth_states
			WHERE id IN (SELECT oauth_state_id FROM sessions WHERE token_family_id = $1 AND oauth_state_id IS NOT NULL)
		`, familyID); err != nil {
			return errors.Wrap(err, "delete oauth states")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token_family_id = $1`, familyID)
		if err != nil {
			return errors.Wrap(err, "delete sessions")
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "RowsAffected")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM rotated_refresh_tokens WHERE token_family_id = $1`, familyID)
		return errors.Wrap(err, "delete ledger rows")
	})
	if err != nil {
		return 0, errors.Wrap(err, "[sessions.Repo.InvalidateFamily]")
	}
	return deleted, nil
}

func (r *Repo) ExchangeTokens(ctx context.Context, p sessions.ExchangeParams) (bool, error) {
	var exchanged bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var stateID sql.NullString
		err := tx.QueryRowContext(ctx, `
			UPDATE sessions
			SET tokens_exchanged = TRUE, refresh_token = $1, csrf_token_hash = $2, last_activity_at = $3
			WHERE id = $4 AND tokens_exchanged = FALSE
			RETURNING oauth_state_id
		`, p.NewHash, nullString(p.NewCSRFHash), p.Now, p.SessionID).Scan(&stateID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "update session")
		}
		exchanged = true
		if !stateID.Valid {
			return nil
		}
		// ON DELETE SET NULL detaches the session
		_, err = tx.ExecContext(ctx, `DELETE FROM oauth_states WHERE id = $1`, stateID.String)
		return errors.Wrap(err, "delete oauth state")
	})
	if err != nil {
		return false, errors.Wrap(err, "[sessions.Repo.ExchangeTokens]")
	}
	return exchanged, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var (
			familyID string
			stateID  sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			DELETE FROM sessions WHERE id = $1
			RETURNING token_family_id, oauth_state_id
		`, id).Scan(&familyID, &stateID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "delete session")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rotated_refresh_tokens WHERE token_family_id = $1`, familyID); err != nil {
			return errors.Wrap(err, "delete ledger rows")
		}
		if stateID.Valid {
			if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_states WHERE id = $1`, stateID.String); err != nil {
				return errors.Wrap(err, "delete oauth state")
			}
		}
		return nil
	})
	return errors.Wrap(err, "[sessions.Repo.Delete]")
}

func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM oauth_states
			WHERE id IN (SELECT oauth_state_id FROM sessions WHERE expires_at <= $1 AND oauth_state_id IS NOT NULL)
		`, now); err != nil {
			return errors.Wrap(err, "delete oauth states")
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
		if err != nil {
			return errors.Wrap(err, "delete sessions")
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return errors.Wrap(err, "RowsAffected")
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM rotated_refresh_tokens r
			WHERE NOT EXISTS (SELECT 1 FROM sessions s WHERE s.token_family_id = r.token_family_id)
		`)
		return errors.Wrap(err, "delete orphaned ledger rows")
	})
	if err != nil {
		return 0, errors.Wrap(err, "[sessions.Repo.DeleteExpired]")
	}
	return deleted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*sessions.Session, error) {
	var (
		s          sessions.Session
		csrf       sql.NullString
		stateID    sql.NullString
		lastRotate sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &csrf, &s.IPAddress, &s.UserAgent,
		&s.DeviceType, &s.Browser, &s.OS, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &stateID,
		&s.TokensExchanged, &s.TokenFamilyID, &s.RotationCount, &lastRotate)
	if err != nil {
		return nil, err
	}
	s.CSRFTokenHash = csrf.String
	if stateID.Valid {
		s.OAuthStateID = &stateID.String
	}
	if lastRotate.Valid {
		s.LastRotationAt = &lastRotate.Time
	}
	return &s, nil
}

// withTx runs fn in a transaction, rolling back on any error.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
