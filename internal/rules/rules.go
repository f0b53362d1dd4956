// Package rules evaluates per ticket-type usage policies.
//
// Rule rows carry a JSON config whose shape depends on the rule type.
// Load turns rows into typed variants once, so malformed configs surface
// when a rule set is loaded and not in the middle of a scan.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// ErrInvalidConfig marks a rule row whose config does not parse.  A set
// with such a row is never evaluated.
var ErrInvalidConfig = errors.New("invalid rule config")

// Context is everything a rule may look at.
type Context struct {
	Ticket    model.Ticket
	Type      model.TicketType
	Event     model.Event
	ScanTime  time.Time
	ScanCount int
	ZoneID    string
}

// Decision is the outcome of evaluating a rule or rule set.  Rule is
// empty when the decision came from the baseline policy or the event
// time gate.
type Decision struct {
	Allowed bool
	Rule    model.RuleType
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(rt model.RuleType, format string, args ...any) Decision {
	return Decision{Rule: rt, Reason: fmt.Sprintf(format, args...)}
}

// Rule is one typed policy variant.
type Rule interface {
	Type() model.RuleType
	Evaluate(c Context) Decision
}

type loaded struct {
	id       string
	priority int
	rule     Rule
}

// Set is the active rules of one ticket type, highest priority first.
type Set struct {
	rules []loaded
}

// Load parses the active rows into a Set.  Inactive rows are skipped.
// Rows with equal priority keep their input order.  One bad row fails the
// whole load with ErrInvalidConfig.
func Load(rows []model.UsageRule) (*Set, error) {
	s := &Set{}
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		r, err := Parse(row.RuleType, row.Config)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w: %w", row.ID, ErrInvalidConfig, err)
		}
		s.rules = append(s.rules, loaded{id: row.ID, priority: row.Priority, rule: r})
	}
	sort.SliceStable(s.rules, func(i, j int) bool { return s.rules[i].priority > s.rules[j].priority })
	return s, nil
}

// Len returns the number of active rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Evaluate runs the rules in priority order; the first failing rule
// decides.  An empty set falls back to Baseline.
func (s *Set) Evaluate(c Context) Decision {
	if s.Len() == 0 {
		return Baseline(c)
	}
	for _, l := range s.rules {
		if d := l.rule.Evaluate(c); !d.Allowed {
			return d
		}
	}
	return allow()
}

// Baseline is the policy for ticket types without rules: single-use
// tickets admit once, multi-scan tickets admit until MaxScans.
func Baseline(c Context) Decision {
	if !c.Type.IsMultiScan {
		if c.ScanCount >= 1 {
			return deny(model.RuleScanLimit, "ticket already used")
		}
		return allow()
	}
	if c.Type.MaxScans > 0 && c.ScanCount >= c.Type.MaxScans {
		return deny(model.RuleScanLimit, "maximum scans reached (%d)", c.Type.MaxScans)
	}
	return allow()
}

// Parse builds the typed variant for rt from its JSON config.
func Parse(rt model.RuleType, config []byte) (Rule, error) {
	if len(config) == 0 {
		config = []byte("{}")
	}
	switch rt {
	case model.RuleScanLimit:
		var r ScanLimit
		if err := decode(config, &r); err != nil {
			return nil, err
		}
		if r.MaxScans < 0 {
			return nil, fmt.Errorf("scan_limit: maxScans must not be negative")
		}
		return r, nil
	case model.RuleTimeWindow:
		var cfg struct {
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
		}
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		return newTimeWindow(cfg.StartTime, cfg.EndTime)
	case model.RuleMultiDayAccess:
		var cfg struct {
			AllowedDays  []int    `json:"allowedDays"`
			AllowedDates []string `json:"allowedDates"`
		}
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		return newMultiDayAccess(cfg.AllowedDays, cfg.AllowedDates)
	case model.RuleDateRange:
		var cfg struct {
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		}
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		return newDateRange(cfg.StartDate, cfg.EndDate)
	case model.RuleZoneRestriction:
		var r ZoneRestriction
		if err := decode(config, &r); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown rule type %q", rt)
}

func decode(config []byte, v any) error {
	if err := json.Unmarshal(config, v); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
