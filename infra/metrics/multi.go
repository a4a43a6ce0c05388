package metrics

import (
	"errors"

	coremetrics "github.com/exportmon/exportmon/core/metrics"
)

// MultiSink fans samples out to several sinks, collecting all errors.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink combines the given sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordTick(t coremetrics.TickSample) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordTick(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPlan(p coremetrics.PlanSample) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordPlan(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordActuation(a coremetrics.ActuationSample) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordActuation(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
