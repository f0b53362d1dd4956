package offline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker(2, 30*time.Second)
	cb.now = func() time.Time { return now }
	isNet := func(err error) bool { return errors.Is(err, ErrNetwork) }
	fail := func() error { return ErrNetwork }
	calls := 0
	ok := func() error { calls++; return nil }

	assert.ErrorIs(t, cb.execute(fail, isNet), ErrNetwork)
	assert.False(t, cb.open())
	assert.ErrorIs(t, cb.execute(fail, isNet), ErrNetwork)
	assert.True(t, cb.open())

	err := cb.execute(ok, isNet)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Zero(t, calls, "open breaker does not call through")

	now = now.Add(31 * time.Second)
	assert.NoError(t, cb.execute(ok, isNet))
	assert.Equal(t, 1, calls)
	assert.False(t, cb.open())
}

func TestCircuitBreakerIgnoresNonNetworkErrors(t *testing.T) {
	cb := newCircuitBreaker(1, time.Minute)
	isNet := func(err error) bool { return errors.Is(err, ErrNetwork) }
	for i := 0; i < 3; i++ {
		_ = cb.execute(func() error { return errors.New("bad request") }, isNet)
	}
	assert.False(t, cb.open())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	now := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker(1, 10*time.Second)
	cb.now = func() time.Time { return now }
	isNet := func(err error) bool { return errors.Is(err, ErrNetwork) }

	_ = cb.execute(func() error { return ErrNetwork }, isNet)
	now = now.Add(11 * time.Second)
	_ = cb.execute(func() error { return ErrNetwork }, isNet)
	assert.True(t, cb.open())
}
