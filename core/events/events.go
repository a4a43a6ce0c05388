// Package events defines the domain events published on the internal bus.
// The coordinator consumes state-machine results synchronously; the bus is
// for observers only (metrics, logs, notifications).
package events

import (
	"time"

	"github.com/exportmon/exportmon/core/model"
)

// WindowEvent reports a window lifecycle change.
type WindowEvent struct {
	Direction model.Direction
	Action    string // "stage", "start", "stop"
	WindowID  string
	EnergyKWh float64
	Reason    string
	At        time.Time
}

// TickEvent reports the outcome of one coordinator tick.
type TickEvent struct {
	At          time.Time
	ErrorCode   string // "none" on success
	HeadroomKWh float64
}

// PlanEvent reports a freshly generated plan.
type PlanEvent struct {
	Direction      model.Direction
	Day            string // "today" or "tomorrow"
	Generation     uint64
	TotalEnergyKWh float64
	Windows        int
	At             time.Time
}

// BreakerEvent reports a circuit breaker transition.
type BreakerEvent struct {
	Open     bool
	Failures int
	At       time.Time
}
