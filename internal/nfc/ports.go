package nfc

import (
	"context"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// BandStore is the persistence the NFC flows need.  *repository.BandRepo
// satisfies it.
type BandStore interface {
	GetByID(ctx context.Context, id string) (model.NFCBand, error)
	GetByTagToken(ctx context.Context, tagToken string) (model.NFCBand, error)
	SetSecurityToken(ctx context.Context, id, token string) error
	SetTagToken(ctx context.Context, id, tagToken string) error
	MarkBindingVerified(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id, reason string, at time.Time) error
	ClaimNonce(ctx context.Context, bandID, nonce string, at time.Time) (bool, error)
}

// SessionStore tracks usage sessions.  Start and End must adjust the
// band's concurrent use counter atomically with the session row.
// StartIfClear must hold the band exclusively from its reads to the
// insert, so that concurrent calls for one band observe each other.  End
// reports whether it closed the session.  *repository.SessionRepo
// satisfies it.
type SessionStore interface {
	ListOpen(ctx context.Context, bandID string) ([]model.UsageSession, error)
	ListRecent(ctx context.Context, bandID string, limit int) ([]model.UsageSession, error)
	Start(ctx context.Context, s model.UsageSession) error
	StartIfClear(ctx context.Context, s model.UsageSession, recent int,
		approve func(band model.NFCBand, open, recent []model.UsageSession) bool) (bool, error)
	End(ctx context.Context, token string, at time.Time) (model.UsageSession, bool, error)
	EndStale(ctx context.Context, cutoff, at time.Time) (int, error)
}

// ScanWriter appends scan rows.
type ScanWriter interface {
	Insert(ctx context.Context, s model.Scan) error
}

// AlertNotifier is told when a band is deactivated for cloning.
type AlertNotifier interface {
	CloningDetected(ctx context.Context, band model.NFCBand, d Detection)
}

// ScanNotifier is told about every recorded NFC scan.
type ScanNotifier interface {
	BandScanned(ctx context.Context, scan model.Scan, res ValidationResult)
}
