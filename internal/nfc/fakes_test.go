package nfc

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

// memStore keeps bands, sessions, band nonces and scans in memory.
type memStore struct {
	mu       sync.Mutex
	bands    map[string]model.NFCBand
	sessions []model.UsageSession
	nonces   map[string]bool
	scans    []model.Scan
	reasons  map[string]string
}

func newMemStore(bands ...model.NFCBand) *memStore {
	s := &memStore{bands: map[string]model.NFCBand{}, nonces: map[string]bool{}, reasons: map[string]string{}}
	for _, b := range bands {
		s.bands[b.ID] = b
	}
	return s
}

func (s *memStore) band(id string) model.NFCBand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bands[id]
}

func (s *memStore) GetByID(_ context.Context, id string) (model.NFCBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bands[id]
	if !ok {
		return model.NFCBand{}, repository.ErrNotFound
	}
	return b, nil
}

func (s *memStore) GetByTagToken(_ context.Context, tagToken string) (model.NFCBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bands {
		if b.TagToken != nil && *b.TagToken == tagToken {
			return b, nil
		}
	}
	return model.NFCBand{}, repository.ErrNotFound
}

func (s *memStore) update(id string, fn func(*model.NFCBand)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bands[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&b)
	s.bands[id] = b
	return nil
}

func (s *memStore) SetSecurityToken(_ context.Context, id, token string) error {
	return s.update(id, func(b *model.NFCBand) { b.SecurityToken = &token })
}

func (s *memStore) SetTagToken(_ context.Context, id, tagToken string) error {
	return s.update(id, func(b *model.NFCBand) { b.TagToken = &tagToken })
}

func (s *memStore) MarkBindingVerified(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(b *model.NFCBand) {
		if b.BindingVerifiedAt == nil {
			b.BindingVerifiedAt = &at
		}
	})
}

func (s *memStore) Deactivate(_ context.Context, id, reason string, _ time.Time) error {
	return s.update(id, func(b *model.NFCBand) {
		s.reasons[id] = reason
		b.Status = model.BandDeactivated
		b.SecurityToken = nil
	})
}

func (s *memStore) ClaimNonce(_ context.Context, bandID, nonce string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := bandID + "|" + nonce
	if s.nonces[k] {
		return false, nil
	}
	s.nonces[k] = true
	return true, nil
}

func (s *memStore) open(bandID string) []model.UsageSession {
	var out []model.UsageSession
	for _, x := range s.sessions {
		if x.BandID == bandID && x.EndedAt == nil {
			out = append(out, x)
		}
	}
	return out
}

func (s *memStore) recent(bandID string, limit int) []model.UsageSession {
	var out []model.UsageSession
	for i := len(s.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.sessions[i].BandID == bandID {
			out = append(out, s.sessions[i])
		}
	}
	return out
}

func (s *memStore) start(x model.UsageSession) {
	s.sessions = append(s.sessions, x)
	b := s.bands[x.BandID]
	b.ConcurrentUseCount++
	loc := x.Location
	b.LastLocation = &loc
	s.bands[x.BandID] = b
}

func (s *memStore) ListOpen(_ context.Context, bandID string) ([]model.UsageSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(bandID), nil
}

func (s *memStore) ListRecent(_ context.Context, bandID string, limit int) ([]model.UsageSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent(bandID, limit), nil
}

func (s *memStore) Start(_ context.Context, x model.UsageSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start(x)
	return nil
}

// StartIfClear holds the store mutex for the whole call, standing in for
// the band row lock.
func (s *memStore) StartIfClear(_ context.Context, x model.UsageSession, recent int,
	approve func(band model.NFCBand, open, recent []model.UsageSession) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bands[x.BandID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !approve(b, s.open(x.BandID), s.recent(x.BandID, recent)) {
		return false, nil
	}
	s.start(x)
	return true, nil
}

func (s *memStore) End(_ context.Context, token string, at time.Time) (model.UsageSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		x := &s.sessions[i]
		if x.SessionToken != token {
			continue
		}
		if x.EndedAt != nil {
			return *x, false, nil
		}
		x.EndedAt = &at
		b := s.bands[x.BandID]
		if b.ConcurrentUseCount > 0 {
			b.ConcurrentUseCount--
		}
		s.bands[x.BandID] = b
		return *x, true, nil
	}
	return model.UsageSession{}, false, repository.ErrNotFound
}

func (s *memStore) EndStale(_ context.Context, cutoff, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.sessions {
		x := &s.sessions[i]
		if x.EndedAt == nil && x.StartedAt.Before(cutoff) {
			x.EndedAt = &at
			b := s.bands[x.BandID]
			if b.ConcurrentUseCount > 0 {
				b.ConcurrentUseCount--
			}
			s.bands[x.BandID] = b
			n++
		}
	}
	return n, nil
}

func (s *memStore) Insert(_ context.Context, x model.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, x)
	return nil
}

type alerts struct {
	mu   sync.Mutex
	seen []Detection
}

func (a *alerts) CloningDetected(_ context.Context, _ model.NFCBand, d Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, d)
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type allowAll struct {
	mu    sync.Mutex
	calls int
}

func (a *allowAll) Allow(context.Context, string) (RateDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return RateDecision{Allowed: true, Count: a.calls}, nil
}
