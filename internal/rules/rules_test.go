package rules

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-admission/internal/model"
)

func at(hhmm string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04", "2026-07-04 "+hhmm)
	return t
}

func rule(rt model.RuleType, priority int, config string) model.UsageRule {
	return model.UsageRule{ID: string(rt), RuleType: rt, Config: []byte(config), Priority: priority, IsActive: true}
}

func TestBaseline(t *testing.T) {
	single := Context{Type: model.TicketType{IsMultiScan: false}}
	assert.True(t, Baseline(single).Allowed)
	single.ScanCount = 1
	d := Baseline(single)
	assert.False(t, d.Allowed)
	assert.Equal(t, model.RuleScanLimit, d.Rule)

	multi := Context{Type: model.TicketType{IsMultiScan: true, MaxScans: 3}, ScanCount: 2}
	assert.True(t, Baseline(multi).Allowed)
	multi.ScanCount = 3
	assert.False(t, Baseline(multi).Allowed)

	unlimited := Context{Type: model.TicketType{IsMultiScan: true}, ScanCount: 500}
	assert.True(t, Baseline(unlimited).Allowed)
}

func TestEmptySetUsesBaseline(t *testing.T) {
	s, err := Load(nil)
	require.NoError(t, err)
	d := s.Evaluate(Context{Type: model.TicketType{}, ScanCount: 1})
	assert.False(t, d.Allowed)
	assert.Equal(t, model.RuleScanLimit, d.Rule)
}

func TestTimeWindowSpanningMidnight(t *testing.T) {
	r, err := Parse(model.RuleTimeWindow, []byte(`{"startTime":"22:00","endTime":"02:00"}`))
	require.NoError(t, err)

	for _, tc := range []struct {
		at   string
		want bool
	}{
		{"23:30", true},
		{"01:30", true},
		{"22:00", true},
		{"02:00", true},
		{"12:00", false},
		{"02:01", false},
	} {
		got := r.Evaluate(Context{ScanTime: at(tc.at)}).Allowed
		assert.Equal(t, tc.want, got, tc.at)
	}
}

func TestTimeWindowUsesEventTimezone(t *testing.T) {
	r, err := Parse(model.RuleTimeWindow, []byte(`{"startTime":"18:00","endTime":"23:00"}`))
	require.NoError(t, err)
	// 20:00 UTC is 22:00 in Berlin during summer time.
	c := Context{ScanTime: at("20:00"), Event: model.Event{Timezone: "Europe/Berlin"}}
	assert.True(t, r.Evaluate(c).Allowed)
	c.ScanTime = at("21:30")
	assert.False(t, r.Evaluate(c).Allowed)
}

func TestMultiDayAccess(t *testing.T) {
	r, err := Parse(model.RuleMultiDayAccess, []byte(`{"allowedDays":[6],"allowedDates":["2026-07-06"]}`))
	require.NoError(t, err)

	multi := model.Event{IsMultiDay: true}
	// 2026-07-04 is a Saturday.
	assert.True(t, r.Evaluate(Context{Event: multi, ScanTime: at("10:00")}).Allowed)
	assert.False(t, r.Evaluate(Context{Event: multi, ScanTime: at("10:00").AddDate(0, 0, 1)}).Allowed)
	assert.True(t, r.Evaluate(Context{Event: multi, ScanTime: at("10:00").AddDate(0, 0, 2)}).Allowed)

	single := model.Event{IsMultiDay: false}
	assert.True(t, r.Evaluate(Context{Event: single, ScanTime: at("10:00").AddDate(0, 0, 1)}).Allowed)

	open, err := Parse(model.RuleMultiDayAccess, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, open.Evaluate(Context{Event: multi, ScanTime: at("10:00")}).Allowed)
}

func TestDateRangeIgnoresTimeOfDay(t *testing.T) {
	r, err := Parse(model.RuleDateRange, []byte(`{"startDate":"2026-07-04","endDate":"2026-07-05"}`))
	require.NoError(t, err)
	assert.True(t, r.Evaluate(Context{ScanTime: at("00:00")}).Allowed)
	assert.True(t, r.Evaluate(Context{ScanTime: at("23:59").AddDate(0, 0, 1)}).Allowed)
	assert.False(t, r.Evaluate(Context{ScanTime: at("23:59").AddDate(0, 0, -1)}).Allowed)
	assert.False(t, r.Evaluate(Context{ScanTime: at("00:00").AddDate(0, 0, 2)}).Allowed)
}

func TestZoneRestrictionPermits(t *testing.T) {
	r, err := Parse(model.RuleZoneRestriction, []byte(`{"allowedZones":["vip"]}`))
	require.NoError(t, err)
	assert.True(t, r.Evaluate(Context{ZoneID: "general"}).Allowed)
	assert.True(t, r.Evaluate(Context{}).Allowed)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	for _, row := range []model.UsageRule{
		rule(model.RuleTimeWindow, 1, `{"startTime":"25:00","endTime":"02:00"}`),
		rule(model.RuleDateRange, 1, `{"startDate":"2026-07-05","endDate":"2026-07-04"}`),
		rule(model.RuleMultiDayAccess, 1, `{"allowedDays":[7]}`),
		rule(model.RuleScanLimit, 1, `{"maxScans":-1}`),
		rule(model.RuleScanLimit, 1, `not json`),
		rule("teleport", 1, `{}`),
	} {
		_, err := Load([]model.UsageRule{row})
		assert.ErrorIs(t, err, ErrInvalidConfig, string(row.Config))
	}
}

func TestPriorityOrderFirstFailureWins(t *testing.T) {
	rows := []model.UsageRule{
		rule(model.RuleScanLimit, 1, `{"maxScans":1}`),
		rule(model.RuleDateRange, 10, `{"endDate":"2026-01-01"}`),
	}
	inactive := rule(model.RuleTimeWindow, 100, `{"startTime":"00:00","endTime":"00:01"}`)
	inactive.IsActive = false
	rows = append(rows, inactive)

	s, err := Load(rows)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	d := s.Evaluate(Context{Type: model.TicketType{IsMultiScan: true}, ScanCount: 5, ScanTime: at("12:00")})
	assert.False(t, d.Allowed)
	assert.Equal(t, model.RuleDateRange, d.Rule)
}

func TestScanLimitRule(t *testing.T) {
	r, err := Parse(model.RuleScanLimit, []byte(`{"maxScans":2}`))
	require.NoError(t, err)
	multi := model.TicketType{IsMultiScan: true, MaxScans: 10}
	assert.True(t, r.Evaluate(Context{Type: multi, ScanCount: 1}).Allowed)
	assert.False(t, r.Evaluate(Context{Type: multi, ScanCount: 2}).Allowed)
	assert.False(t, r.Evaluate(Context{Type: model.TicketType{}, ScanCount: 1}).Allowed)

	implicit, err := Parse(model.RuleScanLimit, nil)
	require.NoError(t, err)
	assert.False(t, implicit.Evaluate(Context{Type: multi, ScanCount: 10}).Allowed)
}

func TestValidateEventTimeRangeBoundaries(t *testing.T) {
	start := time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC)
	ev := model.Event{StartsAt: start, EndsAt: start.Add(3 * time.Hour)}

	assert.True(t, ValidateEventTimeRange(ev, start.Add(-60*time.Minute)).Allowed)
	assert.False(t, ValidateEventTimeRange(ev, start.Add(-60*time.Minute-time.Second)).Allowed)
	assert.True(t, ValidateEventTimeRange(ev, ev.EndsAt.Add(30*time.Minute)).Allowed)
	assert.False(t, ValidateEventTimeRange(ev, ev.EndsAt.Add(30*time.Minute+time.Second)).Allowed)
}
