package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// TicketRepo reads tickets and applies the two kinds of writes tickets
// accept: status changes (driven by the lifecycle package) and scan
// counter updates (driven by validation).  Both are conditional updates
// so concurrent writers cannot overwrite each other.
type TicketRepo struct {
	db *sql.DB
}

func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the handle so callers can open transactions spanning
// several repositories.
func (r *TicketRepo) DB() *sql.DB { return r.db }

const snapshotQuery = `
SELECT t.id, t.ticket_number, t.ticket_type_id, t.event_id, t.status, t.scan_count,
       t.first_scan_at, t.last_scan_at, t.revoked_at, t.revocation_reason,
       tt.id, tt.name, tt.is_multi_scan, tt.max_scans,
       e.id, e.organization_id, e.starts_at, e.ends_at, e.is_multi_day, e.timezone
FROM tickets t
JOIN ticket_types tt ON tt.id = t.ticket_type_id
JOIN events e ON e.id = t.event_id
WHERE t.id = ?`

// GetSnapshot loads a ticket with its type and event.  It returns
// ErrNotFound when the ticket does not exist.
func (r *TicketRepo) GetSnapshot(ctx context.Context, id string) (model.TicketSnapshot, error) {
	var (
		s                            model.TicketSnapshot
		firstScan, lastScan, revoked sql.NullTime
		reason                       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, snapshotQuery, id).Scan(
		&s.Ticket.ID, &s.Ticket.Number, &s.Ticket.TicketTypeID, &s.Ticket.EventID, &s.Ticket.Status, &s.Ticket.ScanCount,
		&firstScan, &lastScan, &revoked, &reason,
		&s.Type.ID, &s.Type.Name, &s.Type.IsMultiScan, &s.Type.MaxScans,
		&s.Event.ID, &s.Event.OrganizationID, &s.Event.StartsAt, &s.Event.EndsAt, &s.Event.IsMultiDay, &s.Event.Timezone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	s.Ticket.FirstScanAt = timePtr(firstScan)
	s.Ticket.LastScanAt = timePtr(lastScan)
	s.Ticket.RevokedAt = timePtr(revoked)
	s.Ticket.RevocationReason = stringPtr(reason)
	return s, nil
}

// GetStatusTx reads and locks the ticket's status row for the rest of tx.
func (r *TicketRepo) GetStatusTx(ctx context.Context, tx *sql.Tx, id string) (model.TicketStatus, error) {
	var st model.TicketStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM tickets WHERE id = ? FOR UPDATE`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return st, err
}

// UpdateStatusTx moves a ticket from one status to another.  The update
// only applies while the row still holds from; otherwise ErrConflict is
// returned and nothing changes.  Revocation metadata is written when to
// is revoked.
func (r *TicketRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to model.TicketStatus, reason string, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if to == model.TicketRevoked {
		res, err = tx.ExecContext(ctx,
			`UPDATE tickets SET status = ?, revoked_at = ?, revocation_reason = ? WHERE id = ? AND status = ?`,
			to, at, nullString(reason), id, from)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE tickets SET status = ? WHERE id = ? AND status = ?`,
			to, id, from)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// IncrementScanTx records an accepted scan.  It is a compare-and-swap on
// scan_count and on an admissible status: when another scan or a
// revocation got there first the update matches no row and ErrConflict
// is returned so the caller can re-evaluate.
func (r *TicketRepo) IncrementScanTx(ctx context.Context, tx *sql.Tx, id string, expectedCount int, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tickets
		 SET scan_count = scan_count + 1, first_scan_at = COALESCE(first_scan_at, ?), last_scan_at = ?
		 WHERE id = ? AND scan_count = ? AND status IN ('paid', 'issued')`,
		at, at, id, expectedCount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
