package circuitbreaker

import (
	"testing"
	"time"

	"github.com/caltrigger-io/caltrigger/internal/testutil"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	cb := New(3, time.Minute).WithClock(clock.Now)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("gateway")
		if err := cb.Allow("gateway"); err != nil {
			t.Fatalf("breaker opened before threshold at failure %d: %v", i+1, err)
		}
	}

	cb.RecordFailure("gateway")
	if err := cb.Allow("gateway"); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen after threshold, got %v", err)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	cb := New(1, time.Minute).WithClock(clock.Now)

	cb.RecordFailure("gateway")
	if err := cb.Allow("gateway"); err != ErrCircuitOpen {
		t.Fatalf("expected open circuit, got %v", err)
	}

	clock.Advance(time.Minute)

	// First probe allowed, second blocked until the probe reports.
	if err := cb.Allow("gateway"); err != nil {
		t.Errorf("expected half-open probe allowed, got %v", err)
	}
	if err := cb.Allow("gateway"); err != ErrCircuitOpen {
		t.Errorf("expected second probe blocked, got %v", err)
	}

	cb.RecordSuccess("gateway")
	if err := cb.Allow("gateway"); err != nil {
		t.Errorf("expected closed after success, got %v", err)
	}
}

func TestBreaker_TargetsIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("a")
	if err := cb.Allow("a"); err != ErrCircuitOpen {
		t.Errorf("a should be open, got %v", err)
	}
	if err := cb.Allow("b"); err != nil {
		t.Errorf("b should be unaffected, got %v", err)
	}
}
