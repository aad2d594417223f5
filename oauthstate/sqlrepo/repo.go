package sqlrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/go-session-auth/clients"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/oauthstate"
	"github.com/pkg/errors"
)

// Schema creates the oauth_states table.
const Schema = `
CREATE TABLE IF NOT EXISTS oauth_states (
	id                     VARCHAR(64) PRIMARY KEY,
	idp_id                 BIGINT NOT NULL,
	nonce                  VARCHAR(255) NOT NULL,
	client_type            VARCHAR(16) NOT NULL,
	ip_address             VARCHAR(64) NOT NULL DEFAULT '',
	redirect_path          TEXT NOT NULL DEFAULT '',
	code_challenge         VARCHAR(128) NOT NULL DEFAULT '',
	code_challenge_method  VARCHAR(8) NOT NULL DEFAULT '',
	provider_code_verifier VARCHAR(128) NOT NULL,
	user_id                BIGINT NULL,
	created_at             TIMESTAMPTZ NOT NULL,
	expires_at             TIMESTAMPTZ NOT NULL,
	used                   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states (expires_at);
`

var _ oauthstate.Repo = (*Repo)(nil)

// Repo stores OAuth states in postgres.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSchema applies Schema.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "[oauthstate.Repo.EnsureSchema]")
}

func (r *Repo) Create(ctx context.Context, s *oauthstate.State) error {
	var userID sql.NullInt64
	if s.UserID != nil {
		userID = sql.NullInt64{Int64: *s.UserID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO oauth_states (
			id, idp_id, nonce, client_type, ip_address, redirect_path,
			code_challenge, code_challenge_method, provider_code_verifier,
			user_id, created_at, expires_at, used
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE)
	`, s.ID, s.ProviderID, s.Nonce, string(s.ClientType), s.IPAddress, s.RedirectPath,
		s.CodeChallenge, s.CodeChallengeMethod, s.ProviderCodeVerifier,
		userID, s.CreatedAt, s.ExpiresAt)
	return errors.Wrap(err, "[oauthstate.Repo.Create]")
}

func (r *Repo) Get(ctx context.Context, id string) (*oauthstate.State, error) {
	var (
		s          oauthstate.State
		clientType string
		userID     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, idp_id, nonce, client_type, ip_address, redirect_path,
			code_challenge, code_challenge_method, provider_code_verifier,
			user_id, created_at, expires_at, used
		FROM oauth_states
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.ProviderID, &s.Nonce, &clientType, &s.IPAddress, &s.RedirectPath,
		&s.CodeChallenge, &s.CodeChallengeMethod, &s.ProviderCodeVerifier,
		&userID, &s.CreatedAt, &s.ExpiresAt, &s.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[oauthstate.Repo.Get]")
	}

	s.ClientType = clients.ClientType(clientType)
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	return &s, nil
}

// MarkUsed is a single conditional update so concurrent redemptions cannot both win.
func (r *Repo) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE oauth_states SET used = TRUE
		WHERE id = $1 AND used = FALSE AND expires_at > $2
	`, id, now)
	if err != nil {
		return false, errors.Wrap(err, "[oauthstate.Repo.MarkUsed]")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "[oauthstate.Repo.MarkUsed] RowsAffected")
	}
	return n == 1, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE id = $1`, id)
	return errors.Wrap(err, "[oauthstate.Repo.Delete]")
}

func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, errors.Wrap(err, "[oauthstate.Repo.DeleteExpired]")
	}
	return res.RowsAffected()
}
