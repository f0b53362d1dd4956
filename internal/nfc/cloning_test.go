package nfc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

var (
	gateA = model.Location{Latitude: 52.5200, Longitude: 13.4050}
	// about 150 m north of gateA
	gateB = model.Location{Latitude: 52.52135, Longitude: 13.4050}
	// about 20 m from gateA
	gateNear = model.Location{Latitude: 52.52018, Longitude: 13.4050}
)

func newTestTracker(store *memStore, notify AlertNotifier, c *clock) *Tracker {
	tr := NewTracker(store, store, notify)
	tr.now = c.now
	return tr
}

func TestDistance(t *testing.T) {
	d := Distance(gateA, gateB)
	assert.InDelta(t, 150, d, 2)
	assert.Zero(t, Distance(gateA, gateA))
	assert.Less(t, Distance(gateA, gateNear), MaxPlausibleDistance)
}

func TestConcurrentUseFarApartIsHighConfidence(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", UserID: "u1", Status: model.BandActive, MaxConcurrentUses: 1})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)
	ctx := context.Background()

	_, err := tr.StartUsageSession(ctx, "b1", gateA)
	require.NoError(t, err)
	c.advance(3 * time.Second)

	d, err := tr.DetectCloning(ctx, store.band("b1"), gateB)
	require.NoError(t, err)
	assert.True(t, d.IsCloned)
	assert.Equal(t, ConfidenceHigh, d.Confidence)
	assert.NotEmpty(t, d.Reasons)
}

func TestConcurrentUseNotFlaggedWhenSlowOrClose(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive, MaxConcurrentUses: 5})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)
	ctx := context.Background()

	_, err := tr.StartUsageSession(ctx, "b1", gateA)
	require.NoError(t, err)

	c.advance(2 * time.Second)
	d, err := tr.CheckConcurrentUse(ctx, "b1", gateNear)
	require.NoError(t, err)
	assert.False(t, d.IsCloned, "close by")

	c.advance(4 * time.Second)
	d, err = tr.CheckConcurrentUse(ctx, "b1", gateB)
	require.NoError(t, err)
	assert.False(t, d.IsCloned, "far but older than the window")
}

func TestDetectCloningTooManyUsesIsMedium(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive, ConcurrentUseCount: 3, MaxConcurrentUses: 2})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)

	d, err := tr.DetectCloning(context.Background(), store.band("b1"), gateA)
	require.NoError(t, err)
	assert.True(t, d.IsCloned)
	assert.Equal(t, ConfidenceMedium, d.Confidence)
}

func TestDetectCloningRapidLocationChange(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive, MaxConcurrentUses: 5})
	t0 := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	ended := t0.Add(time.Second)
	store.sessions = []model.UsageSession{
		{ID: "s1", BandID: "b1", SessionToken: "t1", Location: gateA, StartedAt: t0, EndedAt: &ended},
		{ID: "s2", BandID: "b1", SessionToken: "t2", Location: gateB, StartedAt: t0.Add(8 * time.Second), EndedAt: &ended},
	}
	c := &clock{t: t0.Add(time.Minute)}
	tr := newTestTracker(store, nil, c)

	d, err := tr.DetectCloning(context.Background(), store.band("b1"), gateB)
	require.NoError(t, err)
	assert.True(t, d.IsCloned)
	assert.Equal(t, ConfidenceHigh, d.Confidence)
}

func TestHandleCloningAlertDeactivates(t *testing.T) {
	tok := "secret"
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive, SecurityToken: &tok})
	notified := &alerts{}
	c := &clock{t: time.Now()}
	tr := newTestTracker(store, notified, c)

	d := Detection{}
	d.flag(ConfidenceHigh, "concurrent use")
	require.NoError(t, tr.HandleCloningAlert(context.Background(), store.band("b1"), d))

	b := store.band("b1")
	assert.Equal(t, model.BandDeactivated, b.Status)
	assert.Nil(t, b.SecurityToken)
	assert.Contains(t, store.reasons["b1"], "concurrent use")
	assert.Len(t, notified.seen, 1)
}

func TestSessionsNeverGoNegative(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)
	ctx := context.Background()

	s, err := tr.StartUsageSession(ctx, "b1", gateA)
	require.NoError(t, err)
	assert.Len(t, s.SessionToken, 64)
	assert.Equal(t, 1, store.band("b1").ConcurrentUseCount)

	before := sessionsEnded(t)
	_, err = tr.EndUsageSession(ctx, s.SessionToken)
	require.NoError(t, err)
	_, err = tr.EndUsageSession(ctx, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, 0, store.band("b1").ConcurrentUseCount)
	// A repeated exit scan is not counted again.
	assert.Equal(t, before+1, sessionsEnded(t))
}

func sessionsEnded(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "admission_usage_sessions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "event" && l.GetValue() == "end" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestAdmitOpensSessionOnlyWhenClear(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive, MaxConcurrentUses: 1})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)
	ctx := context.Background()

	a, err := tr.Admit(ctx, "b1", gateA)
	require.NoError(t, err)
	require.NotNil(t, a.Session)
	assert.False(t, a.Detection.IsCloned)
	assert.Equal(t, 1, store.band("b1").ConcurrentUseCount)

	c.advance(2 * time.Second)
	a, err = tr.Admit(ctx, "b1", gateB)
	require.NoError(t, err)
	assert.Nil(t, a.Session)
	assert.True(t, a.Detection.IsCloned)
	assert.Equal(t, ConfidenceHigh, a.Detection.Confidence)
	assert.Equal(t, 1, store.band("b1").ConcurrentUseCount)

	_, err = tr.Admit(ctx, "missing", gateA)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSweepStale(t *testing.T) {
	store := newMemStore(model.NFCBand{ID: "b1", Status: model.BandActive})
	c := &clock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	tr := newTestTracker(store, nil, c)
	ctx := context.Background()

	_, err := tr.StartUsageSession(ctx, "b1", gateA)
	require.NoError(t, err)
	c.advance(time.Hour)
	_, err = tr.StartUsageSession(ctx, "b1", gateA)
	require.NoError(t, err)

	c.advance(30 * time.Minute)
	n, err := tr.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.band("b1").ConcurrentUseCount)
}
