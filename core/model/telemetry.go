package model

import "time"

// Direction identifies which side of the battery an actuator drives.
type Direction string

const (
	Discharge Direction = "discharge"
	Charge    Direction = "charge"
)

func (d Direction) String() string { return string(d) }

// Telemetry is one tick's snapshot of the home energy system. All energy
// counters are cumulative since local midnight.
type Telemetry struct {
	SoC                 float64 // state of charge, percent
	PVEnergyTodayKWh    float64
	GridFeedTodayKWh    float64
	ForecastTodayKWh    float64
	ForecastTomorrowKWh float64

	// Raw carbon-intensity forecast as exposed by the host: primary state
	// plus entity attributes. Parsed by core/forecast.
	ForecastState string
	ForecastAttrs map[string]any

	ReadAt time.Time
}

// ActuatorStatus is the actuator's reported state, read back after every
// guarded command to verify the write took effect.
type ActuatorStatus struct {
	Enabled         bool    `json:"enabled"`
	PowerKW         float64 `json:"power_kw"`
	DurationMinutes float64 `json:"duration_minutes"`
	CutoffSoC       float64 `json:"cutoff_soc"`
}
