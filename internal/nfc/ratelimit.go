package nfc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-admission/internal/config"
)

// windowLua keeps {count, reset_ms} per band.  An expired window starts
// over at zero and the current request counts as its first.
const windowLua = `
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local max_requests = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])

	local state = redis.call('HMGET', key, 'count', 'reset_ms')
	local count = tonumber(state[1])
	local reset_ms = tonumber(state[2])

	if count == nil or reset_ms == nil or now_ms >= reset_ms then
		count = 0
		reset_ms = now_ms + window_ms
	end

	count = count + 1
	redis.call('HSET', key, 'count', count, 'reset_ms', reset_ms)
	redis.call('PEXPIREAT', key, reset_ms)

	local allowed = 0
	if count <= max_requests then allowed = 1 end
	return { allowed, count, reset_ms }
`

var windowScript = redis.NewScript(windowLua)

// RateDecision is the result of one limiter check.
type RateDecision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed window request limiter per band backed by Redis.
type Limiter struct {
	rdb *redis.Client
	cfg config.NFCRateConfig
	now func() time.Time
}

func NewLimiter(rdb *redis.Client, cfg config.NFCRateConfig) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg, now: time.Now}
}

// Allow counts one request for bandID.
func (l *Limiter) Allow(ctx context.Context, bandID string) (RateDecision, error) {
	key := l.cfg.Prefix + ":" + bandID
	vals, err := windowScript.Eval(ctx, l.rdb, []string{key},
		l.now().UnixMilli(), l.cfg.MaxRequests, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate limit %s: %w", bandID, err)
	}
	if len(vals) != 3 {
		return RateDecision{}, fmt.Errorf("rate limit %s: unexpected script result %v", bandID, vals)
	}
	d := RateDecision{
		Allowed: vals[0] == 1,
		Count:   int(vals[1]),
		ResetAt: time.UnixMilli(vals[2]),
	}
	if d.Remaining = l.cfg.MaxRequests - d.Count; d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}
