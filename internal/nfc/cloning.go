package nfc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/metrics"
	"github.com/iliyamo/event-admission/internal/model"
)

// A band cannot cover more than this distance within the time limits
// below; faster movement means two physical copies.
const (
	MaxPlausibleDistance = 100.0 // meters
	ConcurrentUseWindow  = 5 * time.Second
	RapidChangeWindow    = 10 * time.Second
	RecentSessionCount   = 5
)

type Confidence string

const (
	ConfidenceNone   Confidence = ""
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Detection is the outcome of a cloning check.
type Detection struct {
	IsCloned   bool
	Confidence Confidence
	Reasons    []string
}

func (d *Detection) flag(c Confidence, reason string) {
	d.IsCloned = true
	d.Reasons = append(d.Reasons, reason)
	if d.Confidence != ConfidenceHigh {
		d.Confidence = c
	}
}

// Tracker owns usage sessions and cloning detection for bands.
type Tracker struct {
	bands    BandStore
	sessions SessionStore
	notify   AlertNotifier
	now      func() time.Time
}

// NewTracker wires a Tracker.  notify may be nil.
func NewTracker(bands BandStore, sessions SessionStore, notify AlertNotifier) *Tracker {
	return &Tracker{bands: bands, sessions: sessions, notify: notify, now: time.Now}
}

// CheckConcurrentUse compares loc with every open session of the band.
// A session more than 100 m away that started under 5 s ago means the
// band is being used in two places at once.
func (t *Tracker) CheckConcurrentUse(ctx context.Context, bandID string, loc model.Location) (Detection, error) {
	open, err := t.sessions.ListOpen(ctx, bandID)
	if err != nil {
		return Detection{}, fmt.Errorf("list open sessions: %w", err)
	}
	var d Detection
	concurrentUse(&d, t.now(), loc, open)
	return d, nil
}

// DetectCloning runs the concurrent use check plus two further signals:
// more open uses than the band allows, and implausibly fast movement
// between its most recent sessions.
func (t *Tracker) DetectCloning(ctx context.Context, band model.NFCBand, loc model.Location) (Detection, error) {
	open, err := t.sessions.ListOpen(ctx, band.ID)
	if err != nil {
		return Detection{}, fmt.Errorf("list open sessions: %w", err)
	}
	recent, err := t.sessions.ListRecent(ctx, band.ID, RecentSessionCount)
	if err != nil {
		return Detection{}, fmt.Errorf("list recent sessions: %w", err)
	}
	return t.detect(band, loc, open, recent), nil
}

func (t *Tracker) detect(band model.NFCBand, loc model.Location, open, recent []model.UsageSession) Detection {
	var d Detection
	concurrentUse(&d, t.now(), loc, open)
	if band.MaxConcurrentUses > 0 && band.ConcurrentUseCount > band.MaxConcurrentUses {
		d.flag(ConfidenceMedium, fmt.Sprintf("%d concurrent uses exceed limit %d", band.ConcurrentUseCount, band.MaxConcurrentUses))
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].StartedAt.Before(recent[j].StartedAt) })
	for i := 1; i < len(recent); i++ {
		prev, cur := recent[i-1], recent[i]
		dist := Distance(prev.Location, cur.Location)
		gap := cur.StartedAt.Sub(prev.StartedAt)
		if dist > MaxPlausibleDistance && gap < RapidChangeWindow {
			d.flag(ConfidenceHigh, fmt.Sprintf("moved %.0fm in %s between sessions", dist, gap.Round(time.Millisecond)))
			break
		}
	}
	return d
}

func concurrentUse(d *Detection, now time.Time, loc model.Location, open []model.UsageSession) {
	for _, s := range open {
		dist := Distance(loc, s.Location)
		elapsed := now.Sub(s.StartedAt)
		if dist > MaxPlausibleDistance && elapsed < ConcurrentUseWindow {
			d.flag(ConfidenceHigh, fmt.Sprintf("concurrent use %.0fm apart within %s", dist, elapsed.Round(time.Millisecond)))
		}
	}
}

// Admission is the outcome of Admit.  Band is the band as read under the
// lock.  Session is nil unless one was opened.
type Admission struct {
	Band      model.NFCBand
	Detection Detection
	Session   *model.UsageSession
}

// Admit runs DetectCloning and, when it finds nothing on an active band,
// opens a usage session at loc.  Detection and insert happen while the
// band is locked, so concurrent presentations of one band are decided
// one after another and a clone cannot slip in beside the original.
func (t *Tracker) Admit(ctx context.Context, bandID string, loc model.Location) (Admission, error) {
	s, err := t.newSession(bandID, loc)
	if err != nil {
		return Admission{}, err
	}
	var a Admission
	started, err := t.sessions.StartIfClear(ctx, s, RecentSessionCount, func(band model.NFCBand, open, recent []model.UsageSession) bool {
		a.Band = band
		if band.Status != model.BandActive {
			return false
		}
		a.Detection = t.detect(band, loc, open, recent)
		return !a.Detection.IsCloned
	})
	if err != nil {
		return Admission{}, fmt.Errorf("admit band %s: %w", bandID, err)
	}
	if started {
		a.Session = &s
		metrics.SessionStarted()
	}
	return a, nil
}

// HandleCloningAlert deactivates the band.  This is a hard stop: the
// band's security token is voided with it.
func (t *Tracker) HandleCloningAlert(ctx context.Context, band model.NFCBand, d Detection) error {
	reason := "cloning detected: " + strings.Join(d.Reasons, "; ")
	if err := t.bands.Deactivate(ctx, band.ID, reason, t.now()); err != nil {
		return fmt.Errorf("deactivate band %s: %w", band.ID, err)
	}
	metrics.CloningAlert(string(d.Confidence))
	logrus.WithFields(logrus.Fields{
		"band_id":    band.ID,
		"user_id":    band.UserID,
		"confidence": d.Confidence,
	}).Warn(reason)
	if t.notify != nil {
		t.notify.CloningDetected(ctx, band, d)
	}
	return nil
}

func (t *Tracker) newSession(bandID string, loc model.Location) (model.UsageSession, error) {
	token, err := randomToken()
	if err != nil {
		return model.UsageSession{}, err
	}
	return model.UsageSession{
		ID:           uuid.NewString(),
		BandID:       bandID,
		SessionToken: token,
		Location:     loc,
		StartedAt:    t.now().UTC(),
	}, nil
}

// StartUsageSession opens a session for the band at loc without any
// cloning check.
func (t *Tracker) StartUsageSession(ctx context.Context, bandID string, loc model.Location) (model.UsageSession, error) {
	s, err := t.newSession(bandID, loc)
	if err != nil {
		return model.UsageSession{}, err
	}
	if err := t.sessions.Start(ctx, s); err != nil {
		return model.UsageSession{}, fmt.Errorf("start session: %w", err)
	}
	metrics.SessionStarted()
	return s, nil
}

// EndUsageSession closes the session.  Ending it twice is harmless and
// counted once.
func (t *Tracker) EndUsageSession(ctx context.Context, sessionToken string) (model.UsageSession, error) {
	s, closed, err := t.sessions.End(ctx, sessionToken, t.now().UTC())
	if err != nil {
		return s, err
	}
	if closed {
		metrics.SessionEnded(1)
	}
	return s, nil
}

// SweepStale closes sessions open for longer than maxAge.
func (t *Tracker) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := t.now().UTC()
	n, err := t.sessions.EndStale(ctx, now.Add(-maxAge), now)
	if n > 0 {
		metrics.SessionEnded(n)
	}
	return n, err
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.SweepStale(ctx, maxAge)
			if err != nil {
				logrus.WithError(err).Error("session sweep failed")
				continue
			}
			if n > 0 {
				logrus.WithField("closed", n).Info("closed stale usage sessions")
			}
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
