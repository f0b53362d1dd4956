package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-admission/internal/model"
)

func newSessionRepo(t *testing.T) (*SessionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionRepo(db), mock
}

func TestStartSessionBumpsCounter(t *testing.T) {
	repo, mock := newSessionRepo(t)
	s := model.UsageSession{ID: "s1", BandID: "b1", SessionToken: "tok", Location: model.Location{Latitude: 1, Longitude: 2}, StartedAt: time.Now()}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_sessions`)).
		WithArgs("s1", "b1", "tok", `{"latitude":1,"longitude":2}`, s.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`concurrent_use_count = concurrent_use_count + 1`)).
		WithArgs(`{"latitude":1,"longitude":2}`, "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Start(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndSessionDecrementsWithFloor(t *testing.T) {
	repo, mock := newSessionRepo(t)
	started := time.Now().Add(-time.Minute)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM usage_sessions WHERE session_token = ? FOR UPDATE`)).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "band_id", "started_at", "ended_at"}).AddRow("s1", "b1", started, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE usage_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`)).
		WithArgs(at, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`GREATEST(concurrent_use_count - 1, 0)`)).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, closed, err := repo.End(context.Background(), "tok", at)
	require.NoError(t, err)
	assert.True(t, closed)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, "b1", s.BandID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndSessionTwiceIsNoop(t *testing.T) {
	repo, mock := newSessionRepo(t)
	ended := time.Now().Add(-time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM usage_sessions WHERE session_token = ?`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "band_id", "started_at", "ended_at"}).AddRow("s1", "b1", ended.Add(-time.Minute), ended))
	mock.ExpectCommit()

	s, closed, err := repo.End(context.Background(), "tok", time.Now())
	require.NoError(t, err)
	assert.False(t, closed)
	require.NotNil(t, s.EndedAt)
	assert.True(t, s.EndedAt.Equal(ended))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEndUnknownSession(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM usage_sessions WHERE session_token = ?`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "band_id", "started_at", "ended_at"}))
	mock.ExpectRollback()

	_, _, err := repo.End(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOpenDecodesLocation(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE band_id = ? AND ended_at IS NULL`)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "band_id", "session_token", "location", "started_at", "ended_at"}).
			AddRow("s1", "b1", "tok", `{"latitude":52.5,"longitude":13.4,"zone_id":"main"}`, now, nil))

	out, err := repo.ListOpen(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 52.5, out[0].Location.Latitude)
	assert.Equal(t, "main", out[0].Location.ZoneID)
	assert.Nil(t, out[0].EndedAt)
}

func bandRow(count int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "uid", "user_id", "event_id", "status", "binding_verified_at", "tag_token",
		"security_token", "concurrent_use_count", "max_concurrent_uses", "last_location", "metadata"}).
		AddRow("b1", "04A1", "u1", "ev1", "active", nil, nil, "tok", count, 1, nil, nil)
}

func sessionCols() []string {
	return []string{"id", "band_id", "session_token", "location", "started_at", "ended_at"}
}

func TestStartIfClearLocksBandAndInserts(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	s := model.UsageSession{ID: "s2", BandID: "b1", SessionToken: "tok2", Location: model.Location{Latitude: 1, Longitude: 2}, StartedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM nfc_bands WHERE id = ? FOR UPDATE`)).
		WithArgs("b1").
		WillReturnRows(bandRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE band_id = ? AND ended_at IS NULL`)).
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(sessionCols()))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY started_at DESC LIMIT ?`)).
		WithArgs("b1", 5).
		WillReturnRows(sqlmock.NewRows(sessionCols()).AddRow("s1", "b1", "tok1", `{"latitude":1,"longitude":2}`, now.Add(-time.Hour), now.Add(-50*time.Minute)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO usage_sessions`)).
		WithArgs("s2", "b1", "tok2", `{"latitude":1,"longitude":2}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`concurrent_use_count = concurrent_use_count + 1`)).
		WithArgs(`{"latitude":1,"longitude":2}`, "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seenOpen, seenRecent int
	started, err := repo.StartIfClear(context.Background(), s, 5, func(b model.NFCBand, open, recent []model.UsageSession) bool {
		assert.Equal(t, model.BandActive, b.Status)
		seenOpen, seenRecent = len(open), len(recent)
		return true
	})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Zero(t, seenOpen)
	assert.Equal(t, 1, seenRecent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartIfClearRefusedWritesNothing(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	s := model.UsageSession{ID: "s2", BandID: "b1", SessionToken: "tok2", StartedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(bandRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`AND ended_at IS NULL`)).
		WillReturnRows(sqlmock.NewRows(sessionCols()).AddRow("s1", "b1", "tok1", `{"latitude":52.52,"longitude":13.405}`, now, nil))
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT ?`)).
		WillReturnRows(sqlmock.NewRows(sessionCols()).AddRow("s1", "b1", "tok1", `{"latitude":52.52,"longitude":13.405}`, now, nil))
	mock.ExpectCommit()

	started, err := repo.StartIfClear(context.Background(), s, 5, func(b model.NFCBand, open, _ []model.UsageSession) bool {
		assert.Equal(t, 1, b.ConcurrentUseCount)
		return len(open) == 0
	})
	require.NoError(t, err)
	assert.False(t, started)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartIfClearUnknownBand(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.StartIfClear(context.Background(), model.UsageSession{BandID: "nope"}, 5,
		func(model.NFCBand, []model.UsageSession, []model.UsageSession) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
