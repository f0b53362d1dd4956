package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-admission/internal/model"
)

// RuleRepo reads usage rules.
type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// ListActive returns the active rules of a ticket type, highest priority first.
func (r *RuleRepo) ListActive(ctx context.Context, ticketTypeID string) ([]model.UsageRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_type_id, rule_type, config, priority, is_active
		 FROM usage_rules WHERE ticket_type_id = ? AND is_active = TRUE
		 ORDER BY priority DESC, id`, ticketTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.UsageRule
	for rows.Next() {
		var u model.UsageRule
		if err := rows.Scan(&u.ID, &u.TicketTypeID, &u.RuleType, &u.Config, &u.Priority, &u.IsActive); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
