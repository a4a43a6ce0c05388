package guard

import (
	"time"

	"github.com/exportmon/exportmon/core/logger"
)

// CircuitBreaker short-circuits guarded calls after repeated failures and
// lets them through again after a cooldown or on the next success. One
// instance protects one operation class.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	log       logger.Logger

	failures    int
	lastFailure time.Time
	open        bool
}

// BreakerSnapshot is the externally observable breaker state.
type BreakerSnapshot struct {
	Open        bool      `json:"open"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

// NewCircuitBreaker creates a breaker. threshold <= 0 defaults to 5,
// cooldown <= 0 to 60s.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, log logger.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, log: log}
}

// CanAttempt reports whether a guarded operation may proceed. An open
// breaker resets automatically once the cooldown has elapsed since the
// last failure, without requiring a recorded success.
func (b *CircuitBreaker) CanAttempt(now time.Time) bool {
	if !b.open {
		return true
	}
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) >= b.cooldown {
		if b.log != nil {
			b.log.Infof("circuit breaker %q reset after cooldown", b.name)
		}
		b.open = false
		b.failures = 0
		return true
	}
	return false
}

// RecordSuccess closes the breaker immediately.
func (b *CircuitBreaker) RecordSuccess() {
	b.failures = 0
	b.open = false
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.failures++
	b.lastFailure = now
	if b.failures >= b.threshold && !b.open {
		b.open = true
		if b.log != nil {
			b.log.Errorf("circuit breaker %q opened after %d failures", b.name, b.failures)
		}
	}
}

// Snapshot returns the current breaker state.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	return BreakerSnapshot{Open: b.open, Failures: b.failures, LastFailure: b.lastFailure}
}
