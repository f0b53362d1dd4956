package nfc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/metrics"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

// ErrUnavailable is returned when Redis, which backs the rate limiter
// and binding challenges, is not configured.
var ErrUnavailable = errors.New("nfc: validation unavailable")

// ValidationRequest is one band presented at an access point.
type ValidationRequest struct {
	SecurityToken string          `json:"security_token"`
	Nonce         string          `json:"nonce"`
	EventID       string          `json:"event_id"`
	ZoneID        string          `json:"zone_id,omitempty"`
	Location      *model.Location `json:"location,omitempty"`
	ScannerID     string          `json:"-"`
}

// ValidationResult is the decision for an NFC validation.
type ValidationResult struct {
	Valid        bool                  `json:"valid"`
	UserID       string                `json:"user_id,omitempty"`
	BandID       string                `json:"band_id,omitempty"`
	Reason       model.RejectionReason `json:"reason,omitempty"`
	Message      string                `json:"message"`
	Alerts       []string              `json:"alerts,omitempty"`
	SessionToken string                `json:"session_token,omitempty"`
	RetryAt      *time.Time            `json:"retry_at,omitempty"`
}

// RateChecker is satisfied by *Limiter.
type RateChecker interface {
	Allow(ctx context.Context, bandID string) (RateDecision, error)
}

// Validator runs the NFC admission checks: token, band state, event,
// rate limit, nonce, cloning, then opens a usage session.
type Validator struct {
	tokens  *TokenService
	bands   BandStore
	limiter RateChecker
	tracker *Tracker
	scans   ScanWriter
	notify  ScanNotifier
	now     func() time.Time
}

// NewValidator wires a Validator.  A nil limiter makes every call fail
// with ErrUnavailable; notify may be nil.
func NewValidator(tokens *TokenService, bands BandStore, limiter RateChecker, tracker *Tracker, scans ScanWriter, notify ScanNotifier) *Validator {
	return &Validator{tokens: tokens, bands: bands, limiter: limiter, tracker: tracker, scans: scans, notify: notify, now: time.Now}
}

// Validate returns a decision for every well formed request and writes
// one scan row for it.  Errors are infrastructure failures only.
func (v *Validator) Validate(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	if v.limiter == nil {
		return ValidationResult{}, ErrUnavailable
	}
	started := time.Now()
	loc := req.Location
	if loc != nil && req.ZoneID != "" && loc.ZoneID == "" {
		l := *loc
		l.ZoneID = req.ZoneID
		loc = &l
	}
	scan := model.Scan{
		ID:        uuid.NewString(),
		ScannedBy: req.ScannerID,
		Method:    model.ScanMethodNFC,
		Location:  loc,
		CreatedAt: v.now().UTC(),
	}

	res, err := v.run(ctx, req, loc)
	if err != nil {
		return ValidationResult{}, err
	}
	if res.BandID != "" {
		id := res.BandID
		scan.BandID = &id
	}
	scan.IsValid = res.Valid
	scan.RejectionReason = res.Reason
	scan.Message = res.Message
	if err := v.scans.Insert(ctx, scan); err != nil {
		return ValidationResult{}, fmt.Errorf("record nfc scan: %w", err)
	}
	metrics.ObserveValidation(string(model.ScanMethodNFC), res.Valid, string(res.Reason), time.Since(started))
	if v.notify != nil {
		v.notify.BandScanned(ctx, scan, res)
	}
	return res, nil
}

func reject(reason model.RejectionReason, msg string) ValidationResult {
	if msg == "" {
		msg = reason.Message()
	}
	return ValidationResult{Reason: reason, Message: msg}
}

func (v *Validator) run(ctx context.Context, req ValidationRequest, loc *model.Location) (ValidationResult, error) {
	band, err := v.tokens.Verify(ctx, req.SecurityToken)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return reject(model.ReasonCredentialExpired, ""), nil
	case errors.Is(err, ErrTokenSuperseded):
		logrus.WithField("band_id", band.ID).Warn("superseded band token presented")
		r := reject(model.ReasonInvalidSignature, "security token has been replaced")
		r.BandID = band.ID
		return r, nil
	case errors.Is(err, ErrTokenInvalid):
		return reject(model.ReasonInvalidSignature, ""), nil
	case errors.Is(err, repository.ErrNotFound):
		return reject(model.ReasonNotFound, "band not found"), nil
	case err != nil:
		return ValidationResult{}, err
	}

	res := func(reason model.RejectionReason, msg string) ValidationResult {
		r := reject(reason, msg)
		r.BandID = band.ID
		r.UserID = band.UserID
		return r
	}
	if band.Status != model.BandActive {
		return res(model.ReasonBandInactive, fmt.Sprintf("band is %s", band.Status)), nil
	}
	if band.EventID != nil && *band.EventID != req.EventID {
		return res(model.ReasonWrongEvent, ""), nil
	}

	d, err := v.limiter.Allow(ctx, band.ID)
	if err != nil {
		return ValidationResult{}, err
	}
	if !d.Allowed {
		metrics.RateLimited()
		r := res(model.ReasonRateLimited, "too many requests, retry after "+d.ResetAt.UTC().Format(time.RFC3339))
		at := d.ResetAt.UTC()
		r.RetryAt = &at
		return r, nil
	}

	if req.Nonce == "" {
		return res(model.ReasonInvalidSignature, "nonce is required"), nil
	}
	ok, err := v.bands.ClaimNonce(ctx, band.ID, req.Nonce, v.now().UTC())
	if err != nil {
		return ValidationResult{}, err
	}
	if !ok {
		logrus.WithFields(logrus.Fields{"band_id": band.ID, "scanner_id": req.ScannerID}).Warn("nfc nonce replay")
		return res(model.ReasonReplayDetected, ""), nil
	}

	// Without a position there is nothing to compare sessions against.
	if loc == nil {
		r := res("", "admitted")
		r.Valid = true
		return r, nil
	}

	adm, err := v.tracker.Admit(ctx, band.ID, *loc)
	if err != nil {
		return ValidationResult{}, err
	}
	if adm.Detection.IsCloned {
		if err := v.tracker.HandleCloningAlert(ctx, adm.Band, adm.Detection); err != nil {
			return ValidationResult{}, err
		}
		r := res(model.ReasonCloningDetected, "")
		r.Alerts = adm.Detection.Reasons
		return r, nil
	}
	if adm.Session == nil {
		// Deactivated while this request was in flight.
		return res(model.ReasonBandInactive, fmt.Sprintf("band is %s", adm.Band.Status)), nil
	}
	r := res("", "admitted")
	r.Valid = true
	r.SessionToken = adm.Session.SessionToken
	return r, nil
}
