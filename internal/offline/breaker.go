package offline

import (
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

// circuitBreaker stops calls to the server after a run of consecutive
// failures.  After the cooldown one trial call is let through; success
// closes the breaker, failure reopens it.
type circuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	expiry   time.Time
	trial    bool
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	if maxFailures < 1 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// execute runs fn unless the breaker is open.  Only failures for which
// counts returns true move the breaker towards open.
func (cb *circuitBreaker) execute(fn func() error, counts func(error) bool) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err == nil || !counts(err))
	return err
}

func (cb *circuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == breakerOpen && !cb.now().Before(cb.expiry) {
		cb.state = breakerHalfOpen
		cb.trial = false
	}
	switch cb.state {
	case breakerOpen:
		return fmt.Errorf("%w: circuit breaker is open", ErrNetwork)
	case breakerHalfOpen:
		if cb.trial {
			return fmt.Errorf("%w: circuit breaker trial in progress", ErrNetwork)
		}
		cb.trial = true
	}
	return nil
}

func (cb *circuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		cb.state = breakerClosed
		cb.failures = 0
		cb.trial = false
		return
	}
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = breakerOpen
		cb.expiry = cb.now().Add(cb.cooldown)
		cb.trial = false
	}
}

func (cb *circuitBreaker) open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == breakerOpen && cb.now().Before(cb.expiry)
}
