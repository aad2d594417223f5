package sqlrepo

import (
	"context"
	"database/sql"
	"time"

	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

// Schema creates the users table.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id                  BIGSERIAL PRIMARY KEY,
	username            VARCHAR(250) NOT NULL UNIQUE,
	email               VARCHAR(250) NULL,
	name                VARCHAR(250) NOT NULL DEFAULT '',
	password            VARCHAR(250) NOT NULL,
	active              BOOLEAN NOT NULL DEFAULT TRUE,
	scopes              TEXT[] NOT NULL DEFAULT '{}',
	last_login          TIMESTAMPTZ NULL,
	mfa_enabled         BOOLEAN NOT NULL DEFAULT FALSE,
	mfa_secret          TEXT NULL,
	backup_code_hashes  TEXT[] NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users (LOWER(email));
ALTER TABLE users ADD COLUMN IF NOT EXISTS last_totp_step BIGINT NULL;
`

const userColumns = `id, username, email, name, password, active, scopes, last_login,
	mfa_enabled, mfa_secret, backup_code_hashes`

var (
	_ users.UserRepo = (*Repo)(nil)
	_ users.Creator  = (*Repo)(nil)
)

// Repo reads and updates user accounts in postgres.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSchema applies Schema.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "[users.Repo.EnsureSchema]")
}

// Create inserts u and sets its id.
func (r *Repo) Create(ctx context.Context, u *users.User) (*users.User, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, name, password, active, scopes, mfa_enabled, mfa_secret, backup_code_hashes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, u.Username, nullString(u.Email), u.Name, u.PasswordHash, u.Active, pq.Array(nonNil(u.Scopes)),
		u.MFAEnabled, nullString(u.MFASecret), pq.Array(nonNil(u.BackupCodeHashes))).Scan(&u.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil, autherrors.New(autherrors.KindConflict, "username or email already registered")
	}
	if err != nil {
		return nil, errors.Wrap(err, "[users.Repo.Create]")
	}
	return u, nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*users.User, error) {
	return r.getOne(ctx, "[users.Repo.GetByID]", `WHERE id = $1`, id)
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getOne(ctx, "[users.Repo.GetByUsername]", `WHERE username = $1`, username)
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getOne(ctx, "[users.Repo.GetByEmail]", `WHERE LOWER(email) = LOWER($1)`, email)
}

func (r *Repo) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return errors.Wrap(err, "[users.Repo.UpdatePasswordHash]")
	}
	return requireOneRow(res)
}

func (r *Repo) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "[users.Repo.UpdateLastLogin]")
	}
	return requireOneRow(res)
}

// ConsumeBackupCode removes the code in one statement so a code cannot be
// spent twice by concurrent requests.
func (r *Repo) ConsumeBackupCode(ctx context.Context, id int64, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET backup_code_hashes = array_remove(backup_code_hashes, $2)
		WHERE id = $1 AND $2 = ANY(backup_code_hashes)
	`, id, codeHash)
	if err != nil {
		return false, errors.Wrap(err, "[users.Repo.ConsumeBackupCode]")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "[users.Repo.ConsumeBackupCode] RowsAffected")
	}
	return n == 1, nil
}

// RecordTOTPStep advances last_totp_step in one conditional update, so two
// requests presenting the same code cannot both succeed.
func (r *Repo) RecordTOTPStep(ctx context.Context, id int64, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_totp_step = $2
		WHERE id = $1 AND (last_totp_step IS NULL OR last_totp_step < $2)
	`, id, step)
	if err != nil {
		return false, errors.Wrap(err, "[users.Repo.RecordTOTPStep]")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "[users.Repo.RecordTOTPStep] RowsAffected")
	}
	return n == 1, nil
}

func (r *Repo) getOne(ctx context.Context, op, where string, arg any) (*users.User, error) {
	var (
		u         users.User
		email     sql.NullString
		secret    sql.NullString
		lastLogin sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, arg).Scan(
		&u.ID, &u.Username, &email, &u.Name, &u.PasswordHash, &u.Active, pq.Array(&u.Scopes), &lastLogin,
		&u.MFAEnabled, &secret, pq.Array(&u.BackupCodeHashes))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	u.Email = email.String
	u.MFASecret = secret.String
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "RowsAffected")
	}
	if n == 0 {
		return autherrors.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
