package rules

import (
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

const (
	EarlyEntryGrace = 60 * time.Minute
	LateEntryGrace  = 30 * time.Minute
)

// ValidateEventTimeRange admits scans in [start-60m, end+30m], bounds
// included, independent of the ticket type's rules.
func ValidateEventTimeRange(ev model.Event, scanTime time.Time) Decision {
	earliest := ev.StartsAt.Add(-EarlyEntryGrace)
	latest := ev.EndsAt.Add(LateEntryGrace)
	switch {
	case scanTime.Before(earliest):
		return Decision{Reason: "event entry opens at " + earliest.In(ev.Location()).Format("2006-01-02 15:04")}
	case scanTime.After(latest):
		return Decision{Reason: "event entry closed at " + latest.In(ev.Location()).Format("2006-01-02 15:04")}
	}
	return allow()
}
