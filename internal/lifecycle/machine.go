package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/metrics"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

// Request asks for one ticket to move to a new status.
type Request struct {
	TicketID string
	To       model.TicketStatus
	Reason   string
	Actor    string
}

// Change reports what a transition did.  Changed is false for same-state
// requests.
type Change struct {
	TicketID string
	From     model.TicketStatus
	To       model.TicketStatus
	Reason   string
	Actor    string
	Changed  bool
	At       time.Time
}

// Notifier is told about applied changes after they commit.
type Notifier interface {
	TicketTransitioned(ctx context.Context, c Change)
}

// Machine applies ticket transitions.
type Machine struct {
	db      *sql.DB
	tickets *repository.TicketRepo
	audit   *repository.AuditRepo
	notify  Notifier
	now     func() time.Time
}

func NewMachine(db *sql.DB, tickets *repository.TicketRepo, audit *repository.AuditRepo, notify Notifier) *Machine {
	return &Machine{db: db, tickets: tickets, audit: audit, notify: notify, now: time.Now}
}

// Transition moves one ticket.  Illegal edges return an
// *IllegalTransitionError and leave the ticket untouched.
func (m *Machine) Transition(ctx context.Context, req Request) (Change, error) {
	changes, err := m.TransitionBatch(ctx, []Request{req})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return Change{}, be.Err
		}
		return Change{}, err
	}
	return changes[0], nil
}

// BatchError reports the first member of a batch that failed validation.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string { return fmt.Sprintf("batch item %d: %v", e.Index, e.Err) }
func (e *BatchError) Unwrap() error { return e.Err }

// TransitionBatch validates every request before changing anything and
// then applies them all in one transaction.  If any member is illegal no
// ticket changes.  Requests are applied in order, so a batch may move the
// same ticket twice.
func (m *Machine) TransitionBatch(ctx context.Context, reqs []Request) (changes []Change, err error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	changes, err = m.plan(ctx, tx, reqs)
	if err != nil {
		return nil, err
	}
	for _, c := range changes {
		if err = m.apply(ctx, tx, c); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	for _, c := range changes {
		m.after(ctx, c)
	}
	return changes, nil
}

// TransitionTx applies a single transition inside the caller's
// transaction.  The caller commits; notification is its responsibility
// via Committed.
func (m *Machine) TransitionTx(ctx context.Context, tx *sql.Tx, req Request) (Change, error) {
	changes, err := m.plan(ctx, tx, []Request{req})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return Change{}, be.Err
		}
		return Change{}, err
	}
	if err := m.apply(ctx, tx, changes[0]); err != nil {
		return Change{}, err
	}
	return changes[0], nil
}

// Committed runs the post-commit side effects of a change made with
// TransitionTx.
func (m *Machine) Committed(ctx context.Context, c Change) { m.after(ctx, c) }

func (m *Machine) plan(ctx context.Context, tx *sql.Tx, reqs []Request) ([]Change, error) {
	now := m.now().UTC()
	current := map[string]model.TicketStatus{}
	changes := make([]Change, 0, len(reqs))
	for i, req := range reqs {
		if !req.To.Valid() {
			return nil, &BatchError{Index: i, Err: fmt.Errorf("unknown status %q", req.To)}
		}
		from, ok := current[req.TicketID]
		if !ok {
			st, err := m.tickets.GetStatusTx(ctx, tx, req.TicketID)
			if err != nil {
				return nil, &BatchError{Index: i, Err: err}
			}
			from = st
		}
		if !CanTransition(from, req.To) {
			return nil, &BatchError{Index: i, Err: &IllegalTransitionError{TicketID: req.TicketID, From: from, To: req.To}}
		}
		current[req.TicketID] = req.To
		changes = append(changes, Change{
			TicketID: req.TicketID,
			From:     from,
			To:       req.To,
			Reason:   req.Reason,
			Actor:    req.Actor,
			Changed:  from != req.To,
			At:       now,
		})
	}
	return changes, nil
}

func (m *Machine) apply(ctx context.Context, tx *sql.Tx, c Change) error {
	if !c.Changed {
		return nil
	}
	if err := m.tickets.UpdateStatusTx(ctx, tx, c.TicketID, c.From, c.To, c.Reason, c.At); err != nil {
		return fmt.Errorf("update ticket %s: %w", c.TicketID, err)
	}
	return m.audit.InsertTx(ctx, tx, model.AuditEntry{
		EntityType: "ticket",
		EntityID:   c.TicketID,
		Action:     "status_transition",
		FromState:  string(c.From),
		ToState:    string(c.To),
		Reason:     c.Reason,
		Actor:      c.Actor,
		CreatedAt:  c.At,
	})
}

func (m *Machine) after(ctx context.Context, c Change) {
	if !c.Changed {
		return
	}
	metrics.Transition(string(c.From), string(c.To))
	logrus.WithFields(logrus.Fields{
		"ticket_id": c.TicketID,
		"from":      c.From,
		"to":        c.To,
		"actor":     c.Actor,
	}).Info("ticket transitioned")
	if m.notify != nil {
		m.notify.TicketTransitioned(ctx, c)
	}
}
