package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/validation"
)

// Outcome is what the operator sees for one scan.
type Outcome struct {
	Result  *validation.Result `json:"result,omitempty"`
	Queued  bool               `json:"queued"`
	EntryID string             `json:"entry_id,omitempty"`
	Message string             `json:"message"`
}

// Agent submits scans live and falls back to the queue when the server
// cannot be reached.
type Agent struct {
	submit    Submitter
	queue     *Queue
	scannerID string
}

func NewAgent(s Submitter, q *Queue, scannerID string) *Agent {
	return &Agent{submit: s, queue: q, scannerID: scannerID}
}

// Scan validates raw online if possible.  A network failure is not an
// error for the operator: the scan is queued for later.
func (a *Agent) Scan(ctx context.Context, raw string, loc *model.Location) (Outcome, error) {
	res, err := a.submit.Submit(ctx, Submission{Credential: raw, ScannerID: a.scannerID, Location: loc})
	if err == nil {
		return Outcome{Result: &res, Message: res.Message}, nil
	}
	if !errors.Is(err, ErrNetwork) {
		return Outcome{}, err
	}
	return a.Enqueue(ctx, raw, loc)
}

// Enqueue stores raw without trying the server first.
func (a *Agent) Enqueue(ctx context.Context, raw string, loc *model.Location) (Outcome, error) {
	// The ticket id is only used for local dedup; the signature is
	// checked by the server when the entry is replayed.
	var ticketID string
	if c, err := credential.PeekQR(raw); err == nil {
		ticketID = c.TicketID
	}
	id, err := a.queue.Enqueue(ctx, raw, a.scannerID, loc, ticketID)
	if err != nil {
		return Outcome{}, fmt.Errorf("queue scan: %w", err)
	}
	logrus.WithFields(logrus.Fields{"entry_id": id, "ticket_id": ticketID}).Info("scan queued for later")
	return Outcome{Queued: true, EntryID: id, Message: "queued for later"}, nil
}
