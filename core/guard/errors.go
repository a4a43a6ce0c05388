package guard

import "errors"

// Error kinds surfaced by the guard and the coordinator. They are matched
// with errors.Is; wrap them with %w when adding context.
var (
	ErrSensorUnavailable    = errors.New("sensor unavailable")
	ErrSensorOutOfRange     = errors.New("sensor value out of range")
	ErrStaleData            = errors.New("telemetry is stale")
	ErrActuatorTimeout      = errors.New("actuator command timed out")
	ErrVerificationMismatch = errors.New("actuator state does not match command")
	ErrCircuitBreakerOpen   = errors.New("circuit breaker is open")
	// ErrNoPeriods is non-fatal: allocation degrades to an empty plan.
	ErrNoPeriods = errors.New("no forecast periods available")
)

// Code maps an error onto the stable name exposed in the health surface.
// A nil error maps to "none".
func Code(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrSensorUnavailable):
		return "sensor_unavailable"
	case errors.Is(err, ErrSensorOutOfRange):
		return "sensor_out_of_range"
	case errors.Is(err, ErrStaleData):
		return "stale_data"
	case errors.Is(err, ErrActuatorTimeout):
		return "actuator_timeout"
	case errors.Is(err, ErrVerificationMismatch):
		return "actuator_verification_mismatch"
	case errors.Is(err, ErrCircuitBreakerOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrNoPeriods):
		return "no_periods_available"
	}
	return "error"
}
