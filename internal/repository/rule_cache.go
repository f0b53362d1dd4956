package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-admission/internal/config"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/rules"
)

// RuleLister reads rule rows.  RuleRepo satisfies it.
type RuleLister interface {
	ListActive(ctx context.Context, ticketTypeID string) ([]model.UsageRule, error)
}

// CachedRuleRepo serves parsed rule sets.  Rows are shared between
// instances through Redis for a short TTL; each instance keeps the set it
// parsed from the cached payload, so a payload is parsed once.  Rows that
// fail to parse are never cached.  Redis failures fall through to the
// database.
type CachedRuleRepo struct {
	next RuleLister
	rdb  *redis.Client
	cfg  config.RuleCacheConfig
	now  func() time.Time

	mu   sync.Mutex
	sets map[string]parsedSet
}

type parsedSet struct {
	payload string
	set     *rules.Set
	expires time.Time
}

// NewCachedRuleRepo wraps next.  rdb may be nil, in which case parsed sets
// live in process only.  With caching disabled every call reads and
// parses the rows.
func NewCachedRuleRepo(next RuleLister, rdb *redis.Client, cfg config.RuleCacheConfig) *CachedRuleRepo {
	return &CachedRuleRepo{next: next, rdb: rdb, cfg: cfg, now: time.Now, sets: map[string]parsedSet{}}
}

type cachedRule struct {
	ID           string          `json:"id"`
	TicketTypeID string          `json:"ticket_type_id"`
	RuleType     model.RuleType  `json:"rule_type"`
	Config       json.RawMessage `json:"config"`
	Priority     int             `json:"priority"`
}

func (r *CachedRuleRepo) key(ticketTypeID string) string {
	return r.cfg.Prefix + ":" + ticketTypeID
}

// ActiveSet returns the parsed active rules of a ticket type.  Errors
// wrapping rules.ErrInvalidConfig mean the stored rows are bad.
func (r *CachedRuleRepo) ActiveSet(ctx context.Context, ticketTypeID string) (*rules.Set, error) {
	if !r.cfg.Enabled {
		set, _, err := r.load(ctx, ticketTypeID)
		return set, err
	}
	key := r.key(ticketTypeID)
	if r.rdb == nil {
		if set, ok := r.memo(key, ""); ok {
			return set, nil
		}
	} else {
		raw, err := r.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			if set, ok := r.memo(key, raw); ok {
				return set, nil
			}
			set, perr := parseCached(raw)
			if perr == nil {
				r.remember(key, raw, set)
				return set, nil
			}
			logrus.WithError(perr).WithField("key", key).Warn("dropping unusable cached rules")
			r.rdb.Del(ctx, key)
		case !errors.Is(err, redis.Nil):
			logrus.WithError(err).WithField("key", key).Warn("rule cache read failed")
		}
	}

	set, list, err := r.load(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	payload := ""
	if r.rdb != nil {
		payload = r.store(ctx, key, list)
	}
	r.remember(key, payload, set)
	return set, nil
}

func (r *CachedRuleRepo) load(ctx context.Context, ticketTypeID string) (*rules.Set, []model.UsageRule, error) {
	list, err := r.next.ListActive(ctx, ticketTypeID)
	if err != nil {
		return nil, nil, err
	}
	set, err := rules.Load(list)
	if err != nil {
		return nil, nil, fmt.Errorf("ticket type %s: %w", ticketTypeID, err)
	}
	return set, list, nil
}

// store writes the rows to Redis and returns the payload written, or ""
// when the write failed.
func (r *CachedRuleRepo) store(ctx context.Context, key string, list []model.UsageRule) string {
	cached := make([]cachedRule, len(list))
	for i, u := range list {
		cfg := json.RawMessage(u.Config)
		if len(cfg) == 0 {
			cfg = json.RawMessage("{}")
		}
		cached[i] = cachedRule{ID: u.ID, TicketTypeID: u.TicketTypeID, RuleType: u.RuleType, Config: cfg, Priority: u.Priority}
	}
	b, err := json.Marshal(cached)
	if err != nil {
		return ""
	}
	if err := r.rdb.Set(ctx, key, b, r.cfg.TTL).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("rule cache write failed")
		return ""
	}
	return string(b)
}

func parseCached(raw string) (*rules.Set, error) {
	var cached []cachedRule
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, err
	}
	rows := make([]model.UsageRule, len(cached))
	for i, c := range cached {
		rows[i] = model.UsageRule{ID: c.ID, TicketTypeID: c.TicketTypeID, RuleType: c.RuleType, Config: c.Config, Priority: c.Priority, IsActive: true}
	}
	return rules.Load(rows)
}

// memo returns the set parsed from payload if it has not expired.
func (r *CachedRuleRepo) memo(key, payload string) (*rules.Set, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sets[key]
	if !ok || e.payload != payload || !r.now().Before(e.expires) {
		return nil, false
	}
	return e.set, true
}

func (r *CachedRuleRepo) remember(key, payload string, set *rules.Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[key] = parsedSet{payload: payload, set: set, expires: r.now().Add(r.cfg.TTL)}
}

// Invalidate drops the cached rules of a ticket type.
func (r *CachedRuleRepo) Invalidate(ctx context.Context, ticketTypeID string) error {
	key := r.key(ticketTypeID)
	r.mu.Lock()
	delete(r.sets, key)
	r.mu.Unlock()
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, key).Err()
}
