package hooks

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}
	b.Failure()
	if b.State() != StateClosed {
		t.Error("should still be closed after 1 failure")
	}
	b.Failure()
	if b.State() != StateOpen {
		t.Errorf("state = %q, want %q after threshold", b.State(), StateOpen)
	}
	if b.Allow() {
		t.Error("open breaker should not allow calls")
	}
}

func TestBreakerHalfOpen(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("should allow a probe after the reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %q, want %q", b.State(), StateHalfOpen)
	}

	b.Failure()
	if b.State() != StateOpen {
		t.Errorf("failed probe: state = %q, want %q", b.State(), StateOpen)
	}

	now = now.Add(2 * time.Minute)
	b.Allow()
	b.Success()
	if b.State() != StateClosed {
		t.Errorf("successful probe: state = %q, want %q", b.State(), StateClosed)
	}
}
