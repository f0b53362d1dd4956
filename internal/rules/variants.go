package rules

import (
	"fmt"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

const dateLayout = "2006-01-02"

// ScanLimit caps accepted scans.  MaxScans of zero defers to the ticket
// type's own limit.
type ScanLimit struct {
	MaxScans int `json:"maxScans"`
}

func (ScanLimit) Type() model.RuleType { return model.RuleScanLimit }

func (r ScanLimit) Evaluate(c Context) Decision {
	if !c.Type.IsMultiScan && c.ScanCount >= 1 {
		return deny(model.RuleScanLimit, "ticket already used")
	}
	limit := r.MaxScans
	if limit == 0 {
		limit = c.Type.MaxScans
	}
	if limit > 0 && c.ScanCount >= limit {
		return deny(model.RuleScanLimit, "maximum scans reached (%d)", limit)
	}
	return allow()
}

// TimeWindow admits only between two wall-clock times in the event's
// timezone.  A window whose start is after its end spans midnight.
type TimeWindow struct {
	Start, End int // minutes after midnight
}

func newTimeWindow(start, end string) (TimeWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time_window: startTime: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time_window: endTime: %w", err)
	}
	return TimeWindow{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("want HH:mm, got %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (TimeWindow) Type() model.RuleType { return model.RuleTimeWindow }

func (r TimeWindow) Evaluate(c Context) Decision {
	local := c.ScanTime.In(c.Event.Location())
	m := local.Hour()*60 + local.Minute()
	var ok bool
	if r.Start > r.End {
		ok = m >= r.Start || m <= r.End
	} else {
		ok = m >= r.Start && m <= r.End
	}
	if !ok {
		return deny(model.RuleTimeWindow, "entry allowed only between %s and %s", clock(r.Start), clock(r.End))
	}
	return allow()
}

func clock(m int) string { return fmt.Sprintf("%02d:%02d", m/60, m%60) }

// MultiDayAccess limits which days of a multi-day event a ticket admits
// on.  A day is admitted when it matches either list; with both lists
// empty every day is admitted.
type MultiDayAccess struct {
	Days  map[time.Weekday]bool
	Dates map[string]bool
}

func newMultiDayAccess(days []int, dates []string) (MultiDayAccess, error) {
	r := MultiDayAccess{Days: map[time.Weekday]bool{}, Dates: map[string]bool{}}
	for _, d := range days {
		if d < 0 || d > 6 {
			return r, fmt.Errorf("multi_day_access: weekday %d out of range 0-6", d)
		}
		r.Days[time.Weekday(d)] = true
	}
	for _, d := range dates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return r, fmt.Errorf("multi_day_access: date %q: want YYYY-MM-DD", d)
		}
		r.Dates[d] = true
	}
	return r, nil
}

func (MultiDayAccess) Type() model.RuleType { return model.RuleMultiDayAccess }

func (r MultiDayAccess) Evaluate(c Context) Decision {
	if !c.Event.IsMultiDay || (len(r.Days) == 0 && len(r.Dates) == 0) {
		return allow()
	}
	local := c.ScanTime.In(c.Event.Location())
	if r.Days[local.Weekday()] || r.Dates[local.Format(dateLayout)] {
		return allow()
	}
	return deny(model.RuleMultiDayAccess, "ticket not valid on %s", local.Format(dateLayout))
}

// DateRange admits on calendar dates between Start and End inclusive.
// Either bound may be empty.
type DateRange struct {
	Start, End string
}

func newDateRange(start, end string) (DateRange, error) {
	for _, v := range []string{start, end} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return DateRange{}, fmt.Errorf("date_range: %q: want YYYY-MM-DD", v)
		}
	}
	if start != "" && end != "" && start > end {
		return DateRange{}, fmt.Errorf("date_range: start %s after end %s", start, end)
	}
	return DateRange{Start: start, End: end}, nil
}

func (DateRange) Type() model.RuleType { return model.RuleDateRange }

// Evaluate compares YYYY-MM-DD strings, which order the same as dates.
func (r DateRange) Evaluate(c Context) Decision {
	day := c.ScanTime.In(c.Event.Location()).Format(dateLayout)
	if (r.Start != "" && day < r.Start) || (r.End != "" && day > r.End) {
		return deny(model.RuleDateRange, "ticket valid from %s to %s", orAny(r.Start), orAny(r.End))
	}
	return allow()
}

func orAny(v string) string {
	if v == "" {
		return "any"
	}
	return v
}

// ZoneRestriction names the zones a ticket type may enter.  Zone
// matching is not defined yet so every scan is permitted.
type ZoneRestriction struct {
	AllowedZones []string `json:"allowedZones"`
}

func (ZoneRestriction) Type() model.RuleType { return model.RuleZoneRestriction }

// Evaluate permits every scan.  Zone restrictions are stored and
// validated but not enforced; AllowedZones is informational.
func (ZoneRestriction) Evaluate(Context) Decision { return allow() }
