// Package offline is the scanner side of admission: a durable local
// queue for scans taken without connectivity and the engine that replays
// them against the server once it is reachable again.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/iliyamo/event-admission/internal/model"
)

// Status is the sync state of a queued scan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusSynced     Status = "synced"
)

// ErrNotFound is returned for unknown queue entry ids.
var ErrNotFound = errors.New("offline: entry not found")

// QueuedScan is one scan attempt waiting for the server.  TicketID is
// empty when the credential could not be read far enough to name one.
type QueuedScan struct {
	ID         string          `json:"id"`
	Credential string          `json:"credential_signature"`
	ScannerID  string          `json:"scanner_id"`
	Location   *model.Location `json:"location,omitempty"`
	TicketID   string          `json:"ticket_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Attempts   int             `json:"attempts"`
	Status     Status          `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS queued_scans (
	id          TEXT PRIMARY KEY,
	credential  TEXT NOT NULL,
	scanner_id  TEXT NOT NULL,
	location    TEXT,
	ticket_id   TEXT NOT NULL DEFAULT '',
	ts          INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	last_error  TEXT NOT NULL DEFAULT '',
	synced_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_queued_scans_status ON queued_scans (status);
CREATE INDEX IF NOT EXISTS idx_queued_scans_ts ON queued_scans (ts);
CREATE INDEX IF NOT EXISTS idx_queued_scans_ticket ON queued_scans (ticket_id);
`

const selectColumns = `id, credential, scanner_id, location, ticket_id, ts, attempts, status, last_error, synced_at`

// Queue is the device-local store.  It is safe for concurrent use.
type Queue struct {
	pool     *sqlitex.Pool
	capacity int
	now      func() time.Time
}

// OpenQueue opens or creates the queue database at path.  Entries left
// in processing by an interrupted sync go back to pending.
func OpenQueue(ctx context.Context, path string, capacity int) (*Queue, error) {
	if path == "" {
		return nil, fmt.Errorf("offline: queue path is required")
	}
	if capacity < 1 {
		capacity = 1000
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, queueSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("offline: open %s: %w", path, err)
	}
	q := &Queue{pool: pool, capacity: capacity, now: time.Now}
	if err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE queued_scans SET status = 'pending' WHERE status = 'processing'`, nil)
	}); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) Close() error { return q.pool.Close() }

func (q *Queue) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("offline: take connection: %w", err)
	}
	defer q.pool.Put(conn)
	return fn(conn)
}

// Enqueue stores a scan attempt and returns its id.  When ticketID is
// known and an unsynced entry for that ticket is already pending or in
// flight, its id is returned instead.  At capacity the single oldest
// entry is evicted first.
func (q *Queue) Enqueue(ctx context.Context, credential, scannerID string, loc *model.Location, ticketID string) (id string, err error) {
	var locJSON any
	if loc != nil {
		b, err := json.Marshal(loc)
		if err != nil {
			return "", err
		}
		locJSON = string(b)
	}
	err = q.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		if ticketID != "" {
			err = sqlitex.Execute(conn, `SELECT id FROM queued_scans
				WHERE ticket_id = ? AND status IN ('pending', 'processing')
				ORDER BY ts LIMIT 1`, &sqlitex.ExecOptions{
				Args: []any{ticketID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					id = stmt.ColumnText(0)
					return nil
				},
			})
			if err != nil || id != "" {
				return err
			}
		}

		var count int
		err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM queued_scans`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if count >= q.capacity {
			err = sqlitex.Execute(conn, `DELETE FROM queued_scans WHERE id =
				(SELECT id FROM queued_scans ORDER BY ts, rowid LIMIT 1)`, nil)
			if err != nil {
				return err
			}
		}

		id = uuid.NewString()
		return sqlitex.Execute(conn, `INSERT INTO queued_scans
			(id, credential, scanner_id, location, ticket_id, ts, attempts, status)
			VALUES (?, ?, ?, ?, ?, ?, 0, 'pending')`, &sqlitex.ExecOptions{
			Args: []any{id, credential, scannerID, locJSON, ticketID, q.now().UnixNano()},
		})
	})
	if err != nil {
		return "", fmt.Errorf("offline: enqueue: %w", err)
	}
	return id, nil
}

func readEntry(stmt *sqlite.Stmt) (QueuedScan, error) {
	e := QueuedScan{
		ID:         stmt.ColumnText(0),
		Credential: stmt.ColumnText(1),
		ScannerID:  stmt.ColumnText(2),
		TicketID:   stmt.ColumnText(4),
		Timestamp:  time.Unix(0, stmt.ColumnInt64(5)),
		Attempts:   stmt.ColumnInt(6),
		Status:     Status(stmt.ColumnText(7)),
		LastError:  stmt.ColumnText(8),
	}
	if !stmt.ColumnIsNull(3) {
		var loc model.Location
		if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &loc); err != nil {
			return e, fmt.Errorf("offline: entry %s location: %w", e.ID, err)
		}
		e.Location = &loc
	}
	if !stmt.ColumnIsNull(9) {
		t := time.Unix(0, stmt.ColumnInt64(9))
		e.SyncedAt = &t
	}
	return e, nil
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]QueuedScan, error) {
	var out []QueuedScan
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := readEntry(stmt)
				if err != nil {
					return err
				}
				out = append(out, e)
				return nil
			},
		})
	})
	return out, err
}

// List returns entries with the given status, or all entries when status
// is empty, oldest first.
func (q *Queue) List(ctx context.Context, status Status) ([]QueuedScan, error) {
	if status == "" {
		return q.query(ctx, `SELECT `+selectColumns+` FROM queued_scans ORDER BY ts, rowid`)
	}
	return q.query(ctx, `SELECT `+selectColumns+` FROM queued_scans WHERE status = ? ORDER BY ts, rowid`, string(status))
}

func (q *Queue) Get(ctx context.Context, id string) (QueuedScan, error) {
	out, err := q.query(ctx, `SELECT `+selectColumns+` FROM queued_scans WHERE id = ?`, id)
	if err != nil {
		return QueuedScan{}, err
	}
	if len(out) == 0 {
		return QueuedScan{}, ErrNotFound
	}
	return out[0], nil
}

// exec runs a write and returns the number of changed rows.
func (q *Queue) exec(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		n = conn.Changes()
		return nil
	})
	return n, err
}

func (q *Queue) update(ctx context.Context, id, query string, args ...any) error {
	n, err := q.exec(ctx, query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("offline: update %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessing counts an attempt and marks the entry in flight.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.update(ctx, id, `UPDATE queued_scans SET status = 'processing', attempts = attempts + 1 WHERE id = ?`)
}

func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	return q.update(ctx, id, `UPDATE queued_scans SET status = 'synced', last_error = '', synced_at = ? WHERE id = ?`, q.now().UnixNano())
}

func (q *Queue) MarkFailed(ctx context.Context, id, msg string) error {
	return q.update(ctx, id, `UPDATE queued_scans SET status = 'failed', last_error = ? WHERE id = ?`, msg)
}

// ResetFailed moves failed entries with fewer than retryCap attempts back
// to pending.
func (q *Queue) ResetFailed(ctx context.Context, retryCap int) (int, error) {
	return q.exec(ctx, `UPDATE queued_scans SET status = 'pending' WHERE status = 'failed' AND attempts < ?`, retryCap)
}

// Remove deletes entries by id.
func (q *Queue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	_, err := q.exec(ctx, `DELETE FROM queued_scans WHERE id IN (`+marks+`)`, args...)
	return err
}

// PruneSynced removes synced entries that were synced before cutoff.
func (q *Queue) PruneSynced(ctx context.Context, cutoff time.Time) (int, error) {
	return q.exec(ctx, `DELETE FROM queued_scans WHERE status = 'synced' AND synced_at <= ?`, cutoff.UnixNano())
}

// Stats counts entries per status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	out := map[Status]int{StatusPending: 0, StatusProcessing: 0, StatusFailed: 0, StatusSynced: 0}
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT status, COUNT(*) FROM queued_scans GROUP BY status`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out[Status(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	})
	return out, err
}
