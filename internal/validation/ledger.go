package validation

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-admission/internal/lifecycle"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

// SQLLedger writes scans to MySQL.
type SQLLedger struct {
	db      *sql.DB
	tickets *repository.TicketRepo
	scans   *repository.ScanRepo
	machine *lifecycle.Machine
}

func NewSQLLedger(db *sql.DB, tickets *repository.TicketRepo, scans *repository.ScanRepo, machine *lifecycle.Machine) *SQLLedger {
	return &SQLLedger{db: db, tickets: tickets, scans: scans, machine: machine}
}

func (l *SQLLedger) RecordRejection(ctx context.Context, scan model.Scan) error {
	return l.scans.Insert(ctx, scan)
}

// RecordAdmission bumps the scan counter, appends the scan row and, for a
// first single-use scan, moves the ticket to used, all in one transaction.
func (l *SQLLedger) RecordAdmission(ctx context.Context, a Admission) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = l.tickets.IncrementScanTx(ctx, tx, *a.Scan.TicketID, a.ExpectedCount, a.Scan.CreatedAt); err != nil {
		return err
	}
	if err = l.scans.InsertTx(ctx, tx, a.Scan); err != nil {
		return err
	}
	var change lifecycle.Change
	if a.MarkUsed {
		change, err = l.machine.TransitionTx(ctx, tx, lifecycle.Request{
			TicketID: *a.Scan.TicketID,
			To:       model.TicketUsed,
			Reason:   "first scan",
			Actor:    a.Scan.ScannedBy,
		})
		if err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	if a.MarkUsed {
		l.machine.Committed(ctx, change)
	}
	return nil
}
