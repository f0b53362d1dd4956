package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-admission/internal/model"
)

// ScanRepo appends to the scans ledger.  Rows are never updated.
type ScanRepo struct {
	db *sql.DB
}

func NewScanRepo(db *sql.DB) *ScanRepo { return &ScanRepo{db: db} }

const insertScan = `INSERT INTO scans
	(id, ticket_id, band_id, scanned_by, method, location, is_valid, rejection_reason, message, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func scanArgs(s model.Scan) []any {
	return []any{
		s.ID, s.TicketID, s.BandID, s.ScannedBy, s.Method, locationArg(s.Location),
		s.IsValid, nullString(string(s.RejectionReason)), s.Message, s.CreatedAt,
	}
}

// Insert writes one scan row.
func (r *ScanRepo) Insert(ctx context.Context, s model.Scan) error {
	_, err := r.db.ExecContext(ctx, insertScan, scanArgs(s)...)
	return err
}

// InsertTx writes one scan row inside tx.
func (r *ScanRepo) InsertTx(ctx context.Context, tx *sql.Tx, s model.Scan) error {
	_, err := tx.ExecContext(ctx, insertScan, scanArgs(s)...)
	return err
}

// ListByTicket returns the most recent scans of a ticket, newest first.
func (r *ScanRepo) ListByTicket(ctx context.Context, ticketID string, limit int) ([]model.Scan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_id, band_id, scanned_by, method, location, is_valid, rejection_reason, message, created_at
		 FROM scans WHERE ticket_id = ? ORDER BY created_at DESC LIMIT ?`, ticketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Scan
	for rows.Next() {
		var (
			s                      model.Scan
			tid, bid, loc, reason sql.NullString
		)
		if err := rows.Scan(&s.ID, &tid, &bid, &s.ScannedBy, &s.Method, &loc, &s.IsValid, &reason, &s.Message, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.TicketID = stringPtr(tid)
		s.BandID = stringPtr(bid)
		s.Location = scanLocation(loc)
		s.RejectionReason = model.RejectionReason(reason.String)
		out = append(out, s)
	}
	return out, rows.Err()
}
