package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// SessionRepo tracks usage sessions.  Starting and ending a session
// adjusts nfc_bands.concurrent_use_count in the same transaction so the
// counter always matches the open session set.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	openSessionsQuery = `SELECT id, band_id, session_token, location, started_at, ended_at
		 FROM usage_sessions WHERE band_id = ? AND ended_at IS NULL ORDER BY started_at`
	recentSessionsQuery = `SELECT id, band_id, session_token, location, started_at, ended_at
		 FROM usage_sessions WHERE band_id = ? ORDER BY started_at DESC LIMIT ?`
)

func listSessions(ctx context.Context, q querier, query string, args ...any) ([]model.UsageSession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UsageSession
	for rows.Next() {
		var (
			s     model.UsageSession
			loc   sql.NullString
			ended sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.BandID, &s.SessionToken, &loc, &s.StartedAt, &ended); err != nil {
			return nil, err
		}
		if l := scanLocation(loc); l != nil {
			s.Location = *l
		}
		s.EndedAt = timePtr(ended)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListOpen returns the band's sessions that have not ended.
func (r *SessionRepo) ListOpen(ctx context.Context, bandID string) ([]model.UsageSession, error) {
	return listSessions(ctx, r.db, openSessionsQuery, bandID)
}

// ListRecent returns the band's latest sessions, newest first.
func (r *SessionRepo) ListRecent(ctx context.Context, bandID string, limit int) ([]model.UsageSession, error) {
	return listSessions(ctx, r.db, recentSessionsQuery, bandID, limit)
}

// Start opens a session and bumps the band's concurrent use counter.
func (r *SessionRepo) Start(ctx context.Context, s model.UsageSession) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	return startSessionTx(ctx, tx, s)
}

// StartIfClear locks the band row, reads the band with its open sessions
// and its latest recent sessions, and opens s only if approve returns true.
// Everything runs in one transaction, so calls for the same band are
// serialized and each one sees the sessions opened before it.  A missing
// band yields ErrNotFound.
func (r *SessionRepo) StartIfClear(ctx context.Context, s model.UsageSession, recent int,
	approve func(band model.NFCBand, open, recent []model.UsageSession) bool) (started bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	band, err := scanBand(tx.QueryRowContext(ctx, `SELECT `+bandColumns+` FROM nfc_bands WHERE id = ? FOR UPDATE`, s.BandID))
	if err != nil {
		return false, err
	}
	open, err := listSessions(ctx, tx, openSessionsQuery, s.BandID)
	if err != nil {
		return false, err
	}
	latest, err := listSessions(ctx, tx, recentSessionsQuery, s.BandID, recent)
	if err != nil {
		return false, err
	}
	if !approve(band, open, latest) {
		return false, nil
	}
	if err = startSessionTx(ctx, tx, s); err != nil {
		return false, err
	}
	return true, nil
}

func startSessionTx(ctx context.Context, tx *sql.Tx, s model.UsageSession) error {
	loc := locationArg(&s.Location)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_sessions (id, band_id, session_token, location, started_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.BandID, s.SessionToken, loc, s.StartedAt); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE nfc_bands SET concurrent_use_count = concurrent_use_count + 1, last_location = ? WHERE id = ?`,
		loc, s.BandID)
	return err
}

// End closes the open session identified by token and decrements the
// band's counter, never below zero.  closed reports whether this call did
// the closing: ending an already closed session is a no-op that returns
// the session unchanged.  An unknown token yields ErrNotFound.
func (r *SessionRepo) End(ctx context.Context, token string, at time.Time) (s model.UsageSession, closed bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return s, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	var ended sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT id, band_id, started_at, ended_at FROM usage_sessions WHERE session_token = ? FOR UPDATE`, token).
		Scan(&s.ID, &s.BandID, &s.StartedAt, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return s, false, err
	}
	s.SessionToken = token
	if ended.Valid {
		s.EndedAt = &ended.Time
		return s, false, nil
	}
	if err = closeSessionTx(ctx, tx, s.ID, s.BandID, at); err != nil {
		return s, false, err
	}
	s.EndedAt = &at
	return s, true, nil
}

// EndStale closes every session opened before cutoff and returns how
// many were closed.
func (r *SessionRepo) EndStale(ctx context.Context, cutoff, at time.Time) (int, error) {
	stale, err := listSessions(ctx, r.db,
		`SELECT id, band_id, session_token, location, started_at, ended_at
		 FROM usage_sessions WHERE ended_at IS NULL AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range stale {
		_, ok, err := r.End(ctx, s.SessionToken, at)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func closeSessionTx(ctx context.Context, tx *sql.Tx, id, bandID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE usage_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE nfc_bands SET concurrent_use_count = GREATEST(concurrent_use_count - 1, 0) WHERE id = ?`, bandID)
	return err
}
