package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, func() *NonceRepo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, func() *NonceRepo { return NewNonceRepo(db) }
}

var (
	claimUpdate = regexp.QuoteMeta(`UPDATE ticket_nonces SET scan_id = ?, claimed_at = ? WHERE ticket_id = ? AND nonce = ? AND scan_id IS NULL`)
	claimInsert = regexp.QuoteMeta(`INSERT INTO ticket_nonces (ticket_id, nonce, scan_id, claimed_at)`)
)

func TestClaimIssuedNonce(t *testing.T) {
	mock, repo := newMock(t)
	at := time.Now()
	mock.ExpectExec(claimUpdate).WithArgs("scan-1", at, "t1", "n1").WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo().Claim(context.Background(), "t1", "n1", "scan-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUnregisteredNonceInserts(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(claimInsert).WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo().Claim(context.Background(), "t1", "n1", "scan-1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimAlreadyConsumed(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(claimUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(claimInsert).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	ok, err := repo().Claim(context.Background(), "t1", "n1", "scan-2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPropagatesOtherErrors(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(claimUpdate).WillReturnError(assert.AnError)

	_, err := repo().Claim(context.Background(), "t1", "n1", "scan-1", time.Now())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestReleaseOnlyWithoutScanRow(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`AND NOT EXISTS (SELECT 1 FROM scans WHERE id = ?)`)).
		WithArgs("t1", "n1", "scan-1", "scan-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo().Release(context.Background(), "t1", "n1", "scan-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
