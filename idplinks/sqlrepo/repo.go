package sqlrepo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/go-session-auth/idplinks"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Schema creates the identity_provider_links table.
const Schema = `
CREATE TABLE IF NOT EXISTS identity_provider_links (
	user_id                      BIGINT NOT NULL,
	idp_id                       BIGINT NOT NULL,
	idp_subject                  VARCHAR(255) NOT NULL,
	idp_refresh_token            TEXT NULL,
	idp_access_token_expires_at  TIMESTAMPTZ NULL,
	idp_refresh_token_updated_at TIMESTAMPTZ NULL,
	last_login                   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, idp_id),
	UNIQUE (idp_id, idp_subject)
);
`

const linkColumns = `user_id, idp_id, idp_subject, idp_refresh_token,
	idp_access_token_expires_at, idp_refresh_token_updated_at, last_login`

var _ idplinks.Repo = (*Repo)(nil)

// Repo stores identity provider links in postgres.
type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSchema applies Schema.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "[idplinks.Repo.EnsureSchema]")
}

func (r *Repo) Upsert(ctx context.Context, l *idplinks.Link) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identity_provider_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, idp_id) DO UPDATE SET
			idp_subject = EXCLUDED.idp_subject,
			idp_refresh_token = EXCLUDED.idp_refresh_token,
			idp_access_token_expires_at = EXCLUDED.idp_access_token_expires_at,
			idp_refresh_token_updated_at = EXCLUDED.idp_refresh_token_updated_at,
			last_login = EXCLUDED.last_login
	`, l.UserID, l.ProviderID, l.Subject, nullString(l.EncryptedRefreshToken),
		nullTime(l.AccessTokenExpiresAt), nullTime(l.RefreshTokenUpdatedAt), l.LastLogin)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return autherrors.New(autherrors.KindConflict, "identity already linked")
	}
	return errors.Wrap(err, "[idplinks.Repo.Upsert]")
}

func (r *Repo) Get(ctx context.Context, userID, providerID int64) (*idplinks.Link, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+`
		FROM identity_provider_links
		WHERE user_id = $1 AND idp_id = $2
	`, userID, providerID)
	link, err := scanLink(row)
	return link, errors.Wrap(err, "[idplinks.Repo.Get]")
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]*idplinks.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM identity_provider_links
		WHERE user_id = $1
		ORDER BY idp_id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[idplinks.Repo.ListByUser]")
	}
	defer rows.Close()

	var links []*idplinks.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[idplinks.Repo.ListByUser] scan")
		}
		links = append(links, link)
	}
	return links, errors.Wrap(rows.Err(), "[idplinks.Repo.ListByUser] rows")
}

func (r *Repo) FindBySubject(ctx context.Context, providerID int64, subject string) (*idplinks.Link, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+`
		FROM identity_provider_links
		WHERE idp_id = $1 AND idp_subject = $2
	`, providerID, subject)
	link, err := scanLink(row)
	return link, errors.Wrap(err, "[idplinks.Repo.FindBySubject]")
}

func (r *Repo) UpdateTokens(ctx context.Context, u idplinks.TokenUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identity_provider_links
		SET idp_refresh_token = $3, idp_access_token_expires_at = $4, idp_refresh_token_updated_at = $5
		WHERE user_id = $1 AND idp_id = $2
	`, u.UserID, u.ProviderID, nullString(u.EncryptedRefreshToken), nullTime(u.AccessTokenExpiresAt), u.UpdatedAt)
	return requireOneRow(res, err, "[idplinks.Repo.UpdateTokens]")
}

func (r *Repo) ClearTokens(ctx context.Context, userID, providerID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identity_provider_links
		SET idp_refresh_token = NULL, idp_access_token_expires_at = NULL, idp_refresh_token_updated_at = NULL
		WHERE user_id = $1 AND idp_id = $2
	`, userID, providerID)
	return requireOneRow(res, err, "[idplinks.Repo.ClearTokens]")
}

func (r *Repo) Delete(ctx context.Context, userID, providerID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM identity_provider_links WHERE user_id = $1 AND idp_id = $2`, userID, providerID)
	return errors.Wrap(err, "[idplinks.Repo.Delete]")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (*idplinks.Link, error) {
	var (
		l             idplinks.Link
		refreshToken  sql.NullString
		accessExpires sql.NullTime
		updatedAt     sql.NullTime
	)
	err := s.Scan(&l.UserID, &l.ProviderID, &l.Subject, &refreshToken, &accessExpires, &updatedAt, &l.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.EncryptedRefreshToken = refreshToken.String
	if accessExpires.Valid {
		l.AccessTokenExpiresAt = &accessExpires.Time
	}
	if updatedAt.Valid {
		l.RefreshTokenUpdatedAt = &updatedAt.Time
	}
	return &l, nil
}

func requireOneRow(res sql.Result, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, op+" RowsAffected")
	}
	if n == 0 {
		return autherrors.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
