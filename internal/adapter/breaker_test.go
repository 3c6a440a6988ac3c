package adapter

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(func() time.Time { return clock })

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker opened too early on failure %d", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("breaker should be open after 3 consecutive failures")
	}
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatalf("expected breaker open")
	}

	clock = clock.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected breaker to recover after cooldown")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(func() time.Time { return clock })

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatalf("breaker should still be closed: success should have reset the streak")
	}
}
