package model

// RuleType names a usage policy variant.
type RuleType string

const (
    RuleScanLimit       RuleType = "scan_limit"
    RuleTimeWindow      RuleType = "time_window"
    RuleMultiDayAccess  RuleType = "multi_day_access"
    RuleDateRange       RuleType = "date_range"
    RuleZoneRestriction RuleType = "zone_restriction"
)

// UsageRule mirrors a row of `usage_rules`.  Config is the raw JSON
// document; the rules package turns it into a typed variant when the
// rule set is loaded.
type UsageRule struct {
    ID           string   // usage_rules.id
    TicketTypeID string   // usage_rules.ticket_type_id
    RuleType     RuleType // usage_rules.rule_type
    Config       []byte   // usage_rules.config (JSON)
    Priority     int      // usage_rules.priority
    IsActive     bool     // usage_rules.is_active
}
