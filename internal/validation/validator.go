// Package validation turns a presented credential into an admit or reject
// decision.  Each attempt writes exactly one scan row, accepted or not.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/lifecycle"
	"github.com/iliyamo/event-admission/internal/metrics"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
	"github.com/iliyamo/event-admission/internal/rules"
)

// maxAttempts bounds re-evaluation when concurrent scans of the same
// ticket keep winning the scan counter update.
const maxAttempts = 3

// Request is one presented QR credential.
type Request struct {
	Credential     string
	ScannerID      string
	OrganizationID string
	ScanTime       time.Time
	Location       *model.Location
}

// Result is the decision.  Rejections are values, not errors.
type Result struct {
	Accepted     bool                  `json:"success"`
	ScanID       string                `json:"scan_id"`
	TicketID     string                `json:"ticket_id,omitempty"`
	TicketNumber string                `json:"ticket_number,omitempty"`
	EventID      string                `json:"event_id,omitempty"`
	ScanCount    int                   `json:"scan_count"`
	Reason       model.RejectionReason `json:"rejection_reason,omitempty"`
	Message      string                `json:"message"`
}

// Validator composes the checks.  It holds no per-call state and may be
// used concurrently.
type Validator struct {
	verifier CredentialVerifier
	nonces   NonceStore
	tickets  TicketStore
	rules    RuleSource
	ledger   Ledger
	notify   Notifier
	now      func() time.Time
}

// New wires a Validator.  notify may be nil.
func New(v CredentialVerifier, n NonceStore, t TicketStore, r RuleSource, l Ledger, notify Notifier) *Validator {
	return &Validator{verifier: v, nonces: n, tickets: t, rules: r, ledger: l, notify: notify, now: time.Now}
}

// attempt carries what is known about one validation as it progresses.
type attempt struct {
	req  Request
	scan model.Scan
	cred credential.QRCredential
	snap *model.TicketSnapshot
}

// Validate runs the full check sequence.  The error is non-nil only for
// infrastructure failures; in that case no scan row exists and the nonce
// is left claimable so the caller may retry.
func (v *Validator) Validate(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	if req.ScanTime.IsZero() {
		req.ScanTime = v.now()
	}
	a := &attempt{
		req: req,
		scan: model.Scan{
			ID:        uuid.NewString(),
			ScannedBy: req.ScannerID,
			Method:    model.ScanMethodQR,
			Location:  req.Location,
			CreatedAt: req.ScanTime.UTC(),
		},
	}

	res, err := v.run(ctx, a)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"scan_id":    a.scan.ID,
			"scanner_id": req.ScannerID,
		}).Error("validation failed")
		return Result{}, err
	}
	metrics.ObserveValidation(string(model.ScanMethodQR), res.Accepted, string(res.Reason), time.Since(started))
	if v.notify != nil {
		v.notify.ScanRecorded(ctx, a.scan, res)
	}
	return res, nil
}

func (v *Validator) run(ctx context.Context, a *attempt) (Result, error) {
	cred, err := v.verifier.VerifyQR(a.req.Credential, a.req.ScanTime)
	if err != nil {
		reason := model.ReasonInvalidSignature
		if errors.Is(err, credential.ErrExpired) {
			reason = model.ReasonCredentialExpired
		}
		return v.reject(ctx, a, reason, "")
	}
	a.cred = cred
	a.scan.TicketID = &cred.TicketID

	claimed, err := v.nonces.Claim(ctx, cred.TicketID, cred.Nonce, a.scan.ID, a.scan.CreatedAt)
	if err != nil {
		return Result{}, fmt.Errorf("claim nonce: %w", err)
	}
	if !claimed {
		logrus.WithFields(logrus.Fields{
			"ticket_id":  cred.TicketID,
			"scanner_id": a.req.ScannerID,
		}).Warn("credential replay detected")
		return v.reject(ctx, a, model.ReasonReplayDetected, "")
	}

	res, err := v.afterClaim(ctx, a)
	if err != nil {
		if rerr := v.nonces.Release(ctx, cred.TicketID, cred.Nonce, a.scan.ID); rerr != nil {
			logrus.WithError(rerr).WithField("ticket_id", cred.TicketID).Error("release nonce failed")
		}
		return Result{}, err
	}
	return res, nil
}

func (v *Validator) afterClaim(ctx context.Context, a *attempt) (Result, error) {
	for i := 0; ; i++ {
		snap, err := v.tickets.GetSnapshot(ctx, a.cred.TicketID)
		if errors.Is(err, repository.ErrNotFound) {
			return v.reject(ctx, a, model.ReasonNotFound, "")
		}
		if err != nil {
			return Result{}, fmt.Errorf("load ticket: %w", err)
		}
		a.snap = &snap

		reason, msg, err := v.check(ctx, a)
		if err != nil {
			return Result{}, err
		}
		if reason != "" {
			return v.reject(ctx, a, reason, msg)
		}

		t := snap.Ticket
		markUsed := !snap.Type.IsMultiScan && t.ScanCount == 0 && t.Status == model.TicketPaid
		a.scan.IsValid = true
		a.scan.RejectionReason = ""
		a.scan.Message = "Entry granted"
		err = v.ledger.RecordAdmission(ctx, Admission{Scan: a.scan, ExpectedCount: t.ScanCount, MarkUsed: markUsed})
		if err == nil {
			return Result{
				Accepted:     true,
				ScanID:       a.scan.ID,
				TicketID:     t.ID,
				TicketNumber: t.Number,
				EventID:      t.EventID,
				ScanCount:    t.ScanCount + 1,
				Message:      a.scan.Message,
			}, nil
		}
		a.scan.IsValid = false
		if !errors.Is(err, repository.ErrConflict) && !errors.Is(err, lifecycle.ErrIllegalTransition) {
			return Result{}, fmt.Errorf("record admission: %w", err)
		}
		if i+1 >= maxAttempts {
			return Result{}, fmt.Errorf("record admission: ticket %s kept changing: %w", t.ID, err)
		}
		logrus.WithField("ticket_id", t.ID).Debug("ticket changed during validation; re-evaluating")
	}
}

// check runs the organization, status, event time and rule checks
// against the loaded snapshot.  An empty reason means admit.  A rule set
// that cannot be loaded, including one with a bad config, is an error:
// the scan is neither admitted nor recorded.
func (v *Validator) check(ctx context.Context, a *attempt) (model.RejectionReason, string, error) {
	s := a.snap
	if a.req.OrganizationID != "" && s.Event.OrganizationID != a.req.OrganizationID {
		logrus.WithFields(logrus.Fields{
			"ticket_id":  s.Ticket.ID,
			"scanner_id": a.req.ScannerID,
		}).Warn("ticket presented to another organization")
		return model.ReasonWrongOrganization, "", nil
	}
	if a.cred.EventID != "" && a.cred.EventID != s.Ticket.EventID {
		return model.ReasonWrongEvent, "", nil
	}
	switch s.Ticket.Status {
	case model.TicketRevoked:
		return model.ReasonTicketRevoked, "", nil
	case model.TicketRefunded:
		return model.ReasonTicketRefunded, "", nil
	case model.TicketUsed:
		return model.ReasonRuleViolation, "scan_limit: ticket already used", nil
	case model.TicketPaid, model.TicketIssued:
	default:
		return model.ReasonPaymentNotComplete, "", nil
	}
	if d := rules.ValidateEventTimeRange(s.Event, a.req.ScanTime); !d.Allowed {
		return model.ReasonEventTimeOutOfRange, d.Reason, nil
	}

	// Single-use tickets admit once whatever rules their type carries.
	if !s.Type.IsMultiScan && s.Ticket.ScanCount >= 1 {
		return model.ReasonRuleViolation, "scan_limit: ticket already used", nil
	}

	set, err := v.rules.ActiveSet(ctx, s.Type.ID)
	if err != nil {
		return "", "", fmt.Errorf("load rules: %w", err)
	}
	zone := ""
	if a.req.Location != nil {
		zone = a.req.Location.ZoneID
	}
	d := set.Evaluate(rules.Context{
		Ticket:    s.Ticket,
		Type:      s.Type,
		Event:     s.Event,
		ScanTime:  a.req.ScanTime,
		ScanCount: s.Ticket.ScanCount,
		ZoneID:    zone,
	})
	if !d.Allowed {
		return model.ReasonRuleViolation, fmt.Sprintf("%s: %s", d.Rule, d.Reason), nil
	}
	return "", "", nil
}

// reject persists the rejection row.  If that fails the error is returned
// and the caller releases the nonce.
func (v *Validator) reject(ctx context.Context, a *attempt, reason model.RejectionReason, detail string) (Result, error) {
	a.scan.IsValid = false
	a.scan.RejectionReason = reason
	a.scan.Message = reason.Message()
	if detail != "" {
		a.scan.Message = a.scan.Message + " (" + detail + ")"
	}
	if err := v.ledger.RecordRejection(ctx, a.scan); err != nil {
		return Result{}, fmt.Errorf("record rejection: %w", err)
	}
	return v.rejection(a), nil
}

func (v *Validator) rejection(a *attempt) Result {
	r := Result{
		ScanID:  a.scan.ID,
		Reason:  a.scan.RejectionReason,
		Message: a.scan.Message,
	}
	if a.scan.TicketID != nil {
		r.TicketID = *a.scan.TicketID
	}
	if a.snap != nil {
		r.TicketNumber = a.snap.Ticket.Number
		r.EventID = a.snap.Ticket.EventID
		r.ScanCount = a.snap.Ticket.ScanCount
	}
	return r
}
