package repository

import (
	"context"
	"database/sql"
	"time"
)

// NonceRepo guards single use of credential nonces.  ticket_nonces has a
// primary key on (ticket_id, nonce) and scan_id is only ever set by a
// conditional update, which makes claiming safe under concurrency.
type NonceRepo struct {
	db *sql.DB
}

func NewNonceRepo(db *sql.DB) *NonceRepo { return &NonceRepo{db: db} }

// Issue registers an unclaimed nonce when a credential is issued.
// Registering an existing nonce is a no-op.
func (r *NonceRepo) Issue(ctx context.Context, ticketID, nonce string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO ticket_nonces (ticket_id, nonce) VALUES (?, ?)`, ticketID, nonce)
	return err
}

// Claim binds nonce to scanID if nobody consumed it before.  It reports
// false when the nonce was already claimed.
func (r *NonceRepo) Claim(ctx context.Context, ticketID, nonce, scanID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ticket_nonces SET scan_id = ?, claimed_at = ? WHERE ticket_id = ? AND nonce = ? AND scan_id IS NULL`,
		scanID, at, ticketID, nonce)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Either claimed already or never registered.  The insert settles it:
	// the primary key lets exactly one concurrent claimer through.
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ticket_nonces (ticket_id, nonce, scan_id, claimed_at) VALUES (?, ?, ?, ?)`,
		ticketID, nonce, scanID, at)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release undoes a claim made by scanID, but only while no scan row with
// that id exists.  It is used when persisting the scan failed so a retry
// of the same credential is not reported as a replay.
func (r *NonceRepo) Release(ctx context.Context, ticketID, nonce, scanID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ticket_nonces SET scan_id = NULL, claimed_at = NULL
		 WHERE ticket_id = ? AND nonce = ? AND scan_id = ?
		   AND NOT EXISTS (SELECT 1 FROM scans WHERE id = ?)`,
		ticketID, nonce, scanID, scanID)
	return err
}
