package adapter

import (
	"sync"
	"time"
)

// CircuitBreaker is per-session: it opens after three consecutive adapter
// failures and fails fast for a cooldown before allowing calls again.
type CircuitBreaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	openUntil   time.Time
	now         func() time.Time
}

// NewCircuitBreaker builds a breaker with the spec's defaults: opens after
// 3 consecutive failures, 30s cooldown. nowFn may be nil to use time.Now.
func NewCircuitBreaker(nowFn func() time.Time) *CircuitBreaker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &CircuitBreaker{threshold: 3, cooldown: 30 * time.Second, now: nowFn}
}

// Allow reports whether a call may proceed. When the breaker is open it
// returns false until the cooldown elapses, at which point it resets to
// half-open (consecutive failure count cleared) and allows the next call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.consecutive = 0
	return true
}

// RecordSuccess clears the consecutive failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// RecordFailure increments the consecutive failure count, opening the
// breaker once it reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.now().Before(b.openUntil)
}
