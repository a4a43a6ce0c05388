package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/exportmon/exportmon/infra/logger"
)

func newTestGuard(threshold int, stale *StaleDetector, timeout time.Duration) *Guard {
	b := NewCircuitBreaker("test", threshold, time.Minute, logger.NopLogger{})
	return New(b, stale, timeout, logger.NopLogger{})
}

func freshStale(now time.Time) *StaleDetector {
	d := NewStaleDetector(30 * time.Second)
	d.RecordUpdate(now)
	return d
}

func TestGuardSuccessPath(t *testing.T) {
	now := time.Now()
	g := newTestGuard(5, freshStale(now), time.Second)

	applied, verified := false, false
	err := g.Call(context.Background(), "set_power",
		func(context.Context) error { applied = true; return nil },
		func(context.Context) error { verified = true; return nil },
	)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !applied || !verified {
		t.Fatalf("applied=%t verified=%t", applied, verified)
	}
	if snap := g.Breaker().Snapshot(); snap.Failures != 0 || snap.Open {
		t.Fatalf("breaker after success: %+v", snap)
	}
}

func TestGuardBreakerShortCircuits(t *testing.T) {
	now := time.Now()
	g := newTestGuard(1, freshStale(now), time.Second)

	boom := errors.New("boom")
	if err := g.Call(context.Background(), "op", func(context.Context) error { return boom }, nil); !errors.Is(err, boom) {
		t.Fatalf("first call: %v", err)
	}

	called := false
	err := g.Call(context.Background(), "op", func(context.Context) error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("second call: %v", err)
	}
	if called {
		t.Fatal("open breaker still invoked the actuator")
	}
}

func TestGuardStaleGate(t *testing.T) {
	g := newTestGuard(5, NewStaleDetector(30*time.Second), time.Second)

	called := false
	err := g.Call(context.Background(), "op", func(context.Context) error { called = true; return nil }, nil)
	if !errors.Is(err, ErrStaleData) {
		t.Fatalf("expected stale gate, got %v", err)
	}
	if called {
		t.Fatal("stale data still invoked the actuator")
	}
	// A stale refusal is a gate, not an actuator fault.
	if g.Breaker().Snapshot().Failures != 0 {
		t.Fatal("stale gate counted as a breaker failure")
	}
}

func TestGuardTimeout(t *testing.T) {
	now := time.Now()
	g := newTestGuard(5, freshStale(now), 20*time.Millisecond)

	err := g.Call(context.Background(), "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	if !errors.Is(err, ErrActuatorTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if g.Breaker().Snapshot().Failures != 1 {
		t.Fatal("timeout not recorded on the breaker")
	}
}

func TestGuardVerificationMismatch(t *testing.T) {
	now := time.Now()
	g := newTestGuard(5, freshStale(now), time.Second)

	err := g.Call(context.Background(), "set_power",
		func(context.Context) error { return nil },
		func(context.Context) error { return VerifyValue("set_power", 3.0, 0.0) },
	)
	if !errors.Is(err, ErrVerificationMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if g.Breaker().Snapshot().Failures != 1 {
		t.Fatal("mismatch not recorded on the breaker")
	}
}

func TestVerifyHelpers(t *testing.T) {
	if err := VerifyValue("op", 3.0, 3.009); err != nil {
		t.Fatalf("within tolerance rejected: %v", err)
	}
	if err := VerifyValue("op", 3.0, 3.02); err == nil {
		t.Fatal("outside tolerance accepted")
	}
	if err := VerifyBool("op", true, true); err != nil {
		t.Fatalf("matching bool rejected: %v", err)
	}
	if err := VerifyBool("op", true, false); !errors.Is(err, ErrVerificationMismatch) {
		t.Fatalf("bool mismatch: %v", err)
	}
}
