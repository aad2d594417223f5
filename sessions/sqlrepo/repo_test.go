package sqlrepo_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/sessions"
	"github.com/jrsteele09/go-session-auth/sessions/sqlrepo"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sqlrepo.Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlrepo.New(db), mock
}

func rotateParams() sessions.RotateParams {
	return sessions.RotateParams{
		SessionID:             "s-1",
		ExpectedRotationCount: 2,
		PreviousHash:          "old-hash",
		NewHash:               "new-hash",
		NewCSRFHash:           "csrf-hash",
		TokenFamilyID:         "s-1",
		Now:                   now,
		ExpiresAt:             now.Add(24 * time.Hour),
	}
}

func TestRotateWithLedgerCommits(t *testing.T) {
	repo, mock := newMock(t)
	p := rotateParams()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
		WithArgs("new-hash", "csrf-hash", now, p.ExpiresAt, "s-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rotated_refresh_tokens")).
		WithArgs("old-hash", "s-1", 2, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RotateWithLedger(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateWithLedgerConflictRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RotateWithLedger(context.Background(), rotateParams())
	require.ErrorIs(t, err, sessions.ErrRotationConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateWithLedgerInsertFailureRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rotated_refresh_tokens")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.RotateWithLedger(context.Background(), rotateParams())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateFamilyIsTransactional(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states")).WithArgs("fam-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE token_family_id = $1")).WithArgs("fam-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rotated_refresh_tokens WHERE token_family_id = $1")).WithArgs("fam-1").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()

	n, err := repo.InvalidateFamily(context.Background(), "fam-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateFamilyRollsBackOnFailure(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE token_family_id = $1")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rotated_refresh_tokens")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.InvalidateFamily(context.Background(), "fam-1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCascades(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM sessions WHERE id = $1")).WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"token_family_id", "oauth_state_id"}).AddRow("fam-1", "state-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rotated_refresh_tokens WHERE token_family_id = $1")).WithArgs("fam-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states WHERE id = $1")).WithArgs("state-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "s-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExchangeTokensOnlyOnce(t *testing.T) {
	repo, mock := newMock(t)
	p := sessions.ExchangeParams{SessionID: "s-1", NewHash: "h", NewCSRFHash: "c", Now: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions")).WithArgs("h", "c", now, "s-1").
		WillReturnRows(sqlmock.NewRows([]string{"oauth_state_id"}).AddRow("state-1"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_states WHERE id = $1")).WithArgs("state-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions")).WithArgs("h", "c", now, "s-1").
		WillReturnRows(sqlmock.NewRows([]string{"oauth_state_id"}))
	mock.ExpectCommit()

	ok, err := repo.ExchangeTokens(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExchangeTokens(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRotated(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rotated_refresh_tokens")).WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"hashed_token", "token_family_id", "rotation_count_at_rotation", "created_at"}).
			AddRow("h1", "fam-1", 0, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rotated_refresh_tokens")).WithArgs("h2").
		WillReturnRows(sqlmock.NewRows([]string{"hashed_token", "token_family_id", "rotation_count_at_rotation", "created_at"}))

	rec, err := repo.FindRotated(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "fam-1", rec.TokenFamilyID)
	assert.Equal(t, 0, rec.RotationCountAtRotation)

	_, err = repo.FindRotated(context.Background(), "h2")
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &sessions.Session{ID: "s-1", TokenFamilyID: "s-1", CreatedAt: now, LastActivityAt: now, ExpiresAt: now})
	require.Error(t, err)
	assert.Equal(t, autherrors.KindConflict, autherrors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
