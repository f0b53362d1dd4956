package validation

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
	"github.com/iliyamo/event-admission/internal/rules"
)

// store is an in-memory stand-in for the MySQL repositories with the same
// atomicity guarantees: nonce claims and admissions run under one mutex.
type store struct {
	mu      sync.Mutex
	nonces  map[string]string // ticket|nonce -> scan id
	tickets map[string]model.TicketSnapshot
	rules   map[string][]model.UsageRule
	scans   []model.Scan

	failAdmissions int // next N admissions fail with an infrastructure error
	conflicts      int // next N admissions report a conflict
}

func newStore() *store {
	return &store{
		nonces:  map[string]string{},
		tickets: map[string]model.TicketSnapshot{},
		rules:   map[string][]model.UsageRule{},
	}
}

func (s *store) Claim(_ context.Context, ticketID, nonce, scanID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ticketID + "|" + nonce
	if s.nonces[k] != "" {
		return false, nil
	}
	s.nonces[k] = scanID
	return true, nil
}

func (s *store) Release(_ context.Context, ticketID, nonce, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ticketID + "|" + nonce
	if s.nonces[k] != scanID {
		return nil
	}
	for _, sc := range s.scans {
		if sc.ID == scanID {
			return nil
		}
	}
	delete(s.nonces, k)
	return nil
}

func (s *store) GetSnapshot(_ context.Context, id string) (model.TicketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.tickets[id]
	if !ok {
		return snap, repository.ErrNotFound
	}
	return snap, nil
}

func (s *store) ActiveSet(_ context.Context, ticketTypeID string) (*rules.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rules.Load(s.rules[ticketTypeID])
}

func (s *store) RecordRejection(_ context.Context, scan model.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, scan)
	return nil
}

func (s *store) RecordAdmission(_ context.Context, a Admission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdmissions > 0 {
		s.failAdmissions--
		return errInfra
	}
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrConflict
	}
	snap := s.tickets[*a.Scan.TicketID]
	st := snap.Ticket.Status
	if snap.Ticket.ScanCount != a.ExpectedCount || (st != model.TicketPaid && st != model.TicketIssued) {
		return repository.ErrConflict
	}
	snap.Ticket.ScanCount++
	at := a.Scan.CreatedAt
	if snap.Ticket.FirstScanAt == nil {
		snap.Ticket.FirstScanAt = &at
	}
	snap.Ticket.LastScanAt = &at
	if a.MarkUsed {
		snap.Ticket.Status = model.TicketUsed
	}
	s.tickets[snap.Ticket.ID] = snap
	s.scans = append(s.scans, a.Scan)
	return nil
}

func (s *store) scanRows() []model.Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Scan(nil), s.scans...)
}

type notified struct {
	mu      sync.Mutex
	results []Result
}

func (n *notified) ScanRecorded(_ context.Context, _ model.Scan, r Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
}
