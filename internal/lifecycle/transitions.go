// Package lifecycle owns ticket status changes.  Every status write goes
// through Machine, which checks the edge against the transition table,
// applies it with a conditional update and appends an audit entry in the
// same transaction.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/iliyamo/event-admission/internal/model"
)

// ErrIllegalTransition matches every IllegalTransitionError.
var ErrIllegalTransition = errors.New("illegal ticket transition")

// IllegalTransitionError names the rejected edge.
type IllegalTransitionError struct {
	TicketID string
	From, To model.TicketStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("ticket %s: illegal transition %s -> %s", e.TicketID, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

var edges = map[model.TicketStatus][]model.TicketStatus{
	model.TicketPendingPayment: {model.TicketPaid, model.TicketRevoked},
	model.TicketIssued:         {model.TicketPaid, model.TicketRevoked},
	model.TicketPaid:           {model.TicketUsed, model.TicketRevoked, model.TicketRefunded},
	model.TicketUsed:           {model.TicketRevoked},
	model.TicketRevoked:        {},
	model.TicketRefunded:       {},
}

// Allowed returns the statuses reachable from from in one step.
func Allowed(from model.TicketStatus) []model.TicketStatus {
	return append([]model.TicketStatus(nil), edges[from]...)
}

// CanTransition reports whether from -> to is permitted.  Staying in the
// same status is always permitted and changes nothing.
func CanTransition(from, to model.TicketStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
