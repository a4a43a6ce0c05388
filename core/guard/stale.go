package guard

import "time"

// StaleDetector tracks the age of the last fully successful telemetry
// refresh. Writers must refuse to touch the actuator while the data is
// stale.
type StaleDetector struct {
	maxAge      time.Duration
	lastSuccess time.Time
}

// NewStaleDetector creates a detector; maxAge <= 0 falls back to 30s.
func NewStaleDetector(maxAge time.Duration) *StaleDetector {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &StaleDetector{maxAge: maxAge}
}

// RecordUpdate marks a fully successful telemetry refresh. Partial or
// rejected reads must not be recorded.
func (d *StaleDetector) RecordUpdate(now time.Time) { d.lastSuccess = now }

// IsStale reports whether the last success is older than the maximum age.
// With no success recorded yet the data is stale by definition.
func (d *StaleDetector) IsStale(now time.Time) bool {
	if d.lastSuccess.IsZero() {
		return true
	}
	return now.Sub(d.lastSuccess) > d.maxAge
}

// Age returns the data age; ok is false before the first success.
func (d *StaleDetector) Age(now time.Time) (time.Duration, bool) {
	if d.lastSuccess.IsZero() {
		return 0, false
	}
	return now.Sub(d.lastSuccess), true
}
