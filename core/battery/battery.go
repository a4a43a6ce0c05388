// Package battery defines the typed adapter interfaces between the core
// and the host energy system. The core never sees entity names or wire
// formats; hosts implement these interfaces and select the concrete wiring.
package battery

import (
	"context"

	"github.com/exportmon/exportmon/core/model"
)

// TelemetrySource reads one snapshot of the system's live telemetry.
// Implementations must not block beyond the passed context.
type TelemetrySource interface {
	Read(ctx context.Context) (model.Telemetry, error)
}

// Actuator drives one side of the battery (charge or discharge). Every
// method is a raw write; callers go through the safety guard, which pairs
// each write with a Status read-back.
type Actuator interface {
	Direction() model.Direction
	SetPowerKW(ctx context.Context, kw float64) error
	SetDurationMinutes(ctx context.Context, minutes float64) error
	SetCutoffSoC(ctx context.Context, pct float64) error
	SetEnabled(ctx context.Context, on bool) error
	Status(ctx context.Context) (model.ActuatorStatus, error)
}

// SettingsProvider hands the core a read-only settings snapshot per tick.
type SettingsProvider interface {
	Snapshot() model.Settings
}

// StaticSettings is a SettingsProvider for fixed configuration.
type StaticSettings model.Settings

func (s StaticSettings) Snapshot() model.Settings { return model.Settings(s) }
