package sqlrepo_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/users"
	"github.com/jrsteele09/go-session-auth/users/sqlrepo"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{
	"id", "username", "email", "name", "password", "active", "scopes", "last_login",
	"mfa_enabled", "mfa_secret", "backup_code_hashes",
}

func newMock(t *testing.T) (*sqlrepo.Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlrepo.New(db), mock
}

func TestGetByEmail(t *testing.T) {
	repo, mock := newMock(t)
	lastLogin := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(userColumns).AddRow(
		int64(7), "alice", "alice@example.com", "Alice", "$argon2id$...", true, "{profile,activities:read}", lastLogin,
		true, "sealed-secret", "{abc,def}",
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE LOWER(email) = LOWER($1)")).WithArgs("ALICE@example.com").WillReturnRows(rows)

	u, err := repo.GetByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, []string{"profile", "activities:read"}, u.Scopes)
	assert.Equal(t, []string{"abc", "def"}, u.BackupCodeHashes)
	assert.Equal(t, "sealed-secret", u.MFASecret)
	assert.Equal(t, lastLogin, u.LastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByUsernameNullColumns(t *testing.T) {
	repo, mock := newMock(t)

	rows := sqlmock.NewRows(userColumns).AddRow(
		int64(8), "bob", nil, "", "hash", true, "{}", nil, false, nil, "{}",
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE username = $1")).WithArgs("bob").WillReturnRows(rows)

	u, err := repo.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, u.Email)
	assert.True(t, u.LastLogin.IsZero())
	assert.False(t, u.MFAEnabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.GetByID(context.Background(), 99)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeBackupCode(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta("array_remove(backup_code_hashes, $2)")
	mock.ExpectExec(query).WithArgs(int64(7), "abc").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(int64(7), "abc").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeBackupCode(context.Background(), 7, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeBackupCode(context.Background(), 7, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTOTPStep(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta("last_totp_step IS NULL OR last_totp_step < $2")
	mock.ExpectExec(query).WithArgs(int64(7), int64(59000)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(int64(7), int64(59000)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.RecordTOTPStep(context.Background(), 7, 59000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RecordTOTPStep(context.Background(), 7, 59000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLastLoginUnknownUser(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login = $2")).WithArgs(int64(5), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateLastLogin(context.Background(), 5, at)
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta("INSERT INTO users")

	mock.ExpectQuery(query).
		WithArgs("alice", "alice@example.com", "", "hash", true, sqlmock.AnyArg(), false, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(query).
		WithArgs("alice", "alice@example.com", "", "hash", true, sqlmock.AnyArg(), false, nil, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	u, err := repo.Create(context.Background(), &users.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)

	_, err = repo.Create(context.Background(), &users.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Active: true})
	require.Equal(t, autherrors.KindConflict, autherrors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
