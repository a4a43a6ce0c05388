package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/exportmon/exportmon/core/logger"
)

// VerifyTolerance is the numeric slack allowed between a commanded
// set-point and the actuator's reported value.
const VerifyTolerance = 0.01

// Guard wraps actuator writes with the breaker gate, the staleness gate, a
// fixed timeout and a post-call read-back verification. Success and failure
// are reported to the breaker so the next tick can decide whether to retry.
type Guard struct {
	breaker *CircuitBreaker
	stale   *StaleDetector
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

// New builds a Guard from its parts. timeout <= 0 falls back to 5s.
func New(breaker *CircuitBreaker, stale *StaleDetector, timeout time.Duration, log logger.Logger) *Guard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Guard{breaker: breaker, stale: stale, timeout: timeout, log: log, now: time.Now}
}

// Breaker exposes the protected operation class's breaker for observation.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Stale exposes the staleness record for observation.
func (g *Guard) Stale() *StaleDetector { return g.stale }

// SetClock overrides the time source, for tests.
func (g *Guard) SetClock(now func() time.Time) { g.now = now }

// Call executes one guarded actuator write. apply performs the command;
// verify reads the actuator back and returns ErrVerificationMismatch when
// the reported state disagrees with the intent. There is no in-call retry:
// the next scheduled tick retries naturally, gated by the breaker.
func (g *Guard) Call(ctx context.Context, op string, apply func(context.Context) error, verify func(context.Context) error) error {
	now := g.now()
	if !g.breaker.CanAttempt(now) {
		return fmt.Errorf("%s: %w", op, ErrCircuitBreakerOpen)
	}
	if g.stale != nil && g.stale.IsStale(now) {
		return fmt.Errorf("%s: %w", op, ErrStaleData)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	err := apply(cctx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s after %s: %w", op, g.timeout, ErrActuatorTimeout)
		} else {
			err = fmt.Errorf("%s: %w", op, err)
		}
		g.fail(op, err)
		return err
	}

	if verify != nil {
		vctx, cancel := context.WithTimeout(ctx, g.timeout)
		err = verify(vctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%s read-back after %s: %w", op, g.timeout, ErrActuatorTimeout)
			}
			g.fail(op, err)
			return err
		}
	}

	g.breaker.RecordSuccess()
	return nil
}

func (g *Guard) fail(op string, err error) {
	g.breaker.RecordFailure(g.now())
	if g.log != nil {
		g.log.Errorf("guarded call %s failed: %v", op, err)
	}
}

// VerifyValue compares a commanded numeric set-point against the reported
// value within the verification tolerance.
func VerifyValue(op string, want, got float64) error {
	if math.Abs(want-got) > VerifyTolerance {
		return fmt.Errorf("%s: want %.3f, reported %.3f: %w", op, want, got, ErrVerificationMismatch)
	}
	return nil
}

// VerifyBool compares a commanded toggle state against the reported one.
func VerifyBool(op string, want, got bool) error {
	if want != got {
		return fmt.Errorf("%s: want %t, reported %t: %w", op, want, got, ErrVerificationMismatch)
	}
	return nil
}
