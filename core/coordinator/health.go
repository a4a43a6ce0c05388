package coordinator

import (
	"time"

	"github.com/exportmon/exportmon/core/guard"
	"github.com/exportmon/exportmon/core/model"
)

// HealthTier summarizes the system's ability to act.
type HealthTier string

const (
	// TierOK: telemetry fresh, breaker closed, last tick clean.
	TierOK HealthTier = "ok"
	// TierDegraded: stale data or a named error on the last tick; the
	// system observes but refuses new actuator engagements.
	TierDegraded HealthTier = "degraded"
	// TierCritical: circuit breaker open, all writes short-circuit.
	TierCritical HealthTier = "critical"
)

// Health is the externally observable state of the control loop. The most
// recent error and its age are always queryable: every rejected write or
// blocked trigger updates LastError.
type Health struct {
	Tier           HealthTier            `json:"tier"`
	LastError      string                `json:"last_error"`
	DataAgeSeconds float64               `json:"data_age_seconds"`
	Breaker        guard.BreakerSnapshot `json:"breaker"`
	LastTick       time.Time             `json:"last_tick"`

	// CurrentIntensity and CurrentTier describe the forecast period covering
	// the last tick. CurrentIntensity is -1 (and the tier empty) when no
	// period covers it. Region is the forecast feed's region shortname.
	CurrentIntensity float64             `json:"current_intensity"`
	CurrentTier      model.IntensityTier `json:"current_tier"`
	Region           string              `json:"region"`
}

// PlanSet holds the current plans per direction and day. Tomorrow's plans
// are planning guides, not executable caps.
type PlanSet struct {
	DischargeToday    model.Plan `json:"discharge_today"`
	DischargeTomorrow model.Plan `json:"discharge_tomorrow"`
	ChargeSession     model.Plan `json:"charge_session"`
	ChargeTomorrow    model.Plan `json:"charge_tomorrow"`
}
