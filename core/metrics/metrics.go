// Package metrics defines the sink interface the coordinator records into.
// Infra implementations exist for Prometheus and InfluxDB; NopSink is used
// when no sink is configured.
package metrics

import (
	"time"

	"github.com/exportmon/exportmon/core/model"
)

// TickSample is recorded once per coordinator tick.
type TickSample struct {
	At             time.Time
	OK             bool
	ErrorCode      string
	HeadroomKWh    float64
	DataAgeSeconds float64
	BreakerOpen    bool
}

// PlanSample is recorded whenever a plan is regenerated.
type PlanSample struct {
	At             time.Time
	Direction      model.Direction
	Day            string
	Generation     uint64
	TotalEnergyKWh float64
	WindowCount    int
}

// ActuationSample is recorded for every guarded actuator call.
type ActuationSample struct {
	At        time.Time
	Direction model.Direction
	Op        string
	OK        bool
	ErrorCode string
	Latency   time.Duration
}

// Sink receives planning and control samples.
type Sink interface {
	RecordTick(TickSample) error
	RecordPlan(PlanSample) error
	RecordActuation(ActuationSample) error
}

// NopSink discards all samples.
type NopSink struct{}

func (NopSink) RecordTick(TickSample) error           { return nil }
func (NopSink) RecordPlan(PlanSample) error           { return nil }
func (NopSink) RecordActuation(ActuationSample) error { return nil }
