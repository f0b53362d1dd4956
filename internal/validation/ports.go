package validation

import (
	"context"
	"time"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/rules"
)

// CredentialVerifier checks QR credentials.  *credential.Signer
// satisfies it.
type CredentialVerifier interface {
	VerifyQR(raw string, now time.Time) (credential.QRCredential, error)
}

// NonceStore claims credential nonces.  Claim must be atomic: of any
// number of concurrent claims for one nonce exactly one reports true.
type NonceStore interface {
	Claim(ctx context.Context, ticketID, nonce, scanID string, at time.Time) (bool, error)
	Release(ctx context.Context, ticketID, nonce, scanID string) error
}

// TicketStore loads a ticket with its type and event.  A missing ticket
// yields repository.ErrNotFound.
type TicketStore interface {
	GetSnapshot(ctx context.Context, id string) (model.TicketSnapshot, error)
}

// RuleSource returns the parsed active rules of a ticket type.  Rows with
// a bad config yield an error wrapping rules.ErrInvalidConfig.
// *repository.CachedRuleRepo satisfies it.
type RuleSource interface {
	ActiveSet(ctx context.Context, ticketTypeID string) (*rules.Set, error)
}

// Admission is an accepted scan ready to be written.
type Admission struct {
	Scan          model.Scan
	ExpectedCount int  // scan_count the decision was based on
	MarkUsed      bool // move the ticket to used in the same write
}

// Ledger persists scan outcomes.  RecordAdmission must apply the scan
// row, the scan counter update and the optional transition atomically and
// return repository.ErrConflict when the ticket changed since it was read.
type Ledger interface {
	RecordRejection(ctx context.Context, scan model.Scan) error
	RecordAdmission(ctx context.Context, a Admission) error
}

// Notifier is told about every recorded scan.
type Notifier interface {
	ScanRecorded(ctx context.Context, scan model.Scan, res Result)
}
