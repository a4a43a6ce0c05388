package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/exportmon/exportmon/core/metrics"
)

// PromSink records control-loop samples in Prometheus metrics.
type PromSink struct {
	ticks      *prometheus.CounterVec
	actuations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	headroom   prometheus.Gauge
	dataAge    prometheus.Gauge
	breaker    prometheus.Gauge
	planEnergy *prometheus.GaugeVec
	planCount  *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The exposition server is started separately on cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exportmon_ticks_total",
			Help: "Coordinator ticks by outcome",
		}, []string{"ok", "error"}),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exportmon_actuations_total",
			Help: "Guarded actuator calls by direction, operation and outcome",
		}, []string{"direction", "op", "ok"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exportmon_actuation_latency_seconds",
			Help:    "Guarded actuator call latency including read-back",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction", "op"}),
		headroom: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exportmon_headroom_kwh",
			Help: "Remaining exportable energy for today",
		}),
		dataAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exportmon_data_age_seconds",
			Help: "Age of the last successful telemetry refresh",
		}),
		breaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exportmon_breaker_open",
			Help: "1 while the actuator circuit breaker is open",
		}),
		planEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exportmon_plan_energy_kwh",
			Help: "Total planned energy per direction and day",
		}, []string{"direction", "day"}),
		planCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exportmon_plan_windows",
			Help: "Planned window count per direction and day",
		}, []string{"direction", "day"}),
	}

	collectors := []prometheus.Collector{
		s.ticks, s.actuations, s.latency, s.headroom, s.dataAge, s.breaker, s.planEnergy, s.planCount,
	}
	for i, col := range collectors {
		if err := reg.Register(col); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch i {
			case 0:
				s.ticks = are.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				s.actuations = are.ExistingCollector.(*prometheus.CounterVec)
			case 2:
				s.latency = are.ExistingCollector.(*prometheus.HistogramVec)
			case 3:
				s.headroom = are.ExistingCollector.(prometheus.Gauge)
			case 4:
				s.dataAge = are.ExistingCollector.(prometheus.Gauge)
			case 5:
				s.breaker = are.ExistingCollector.(prometheus.Gauge)
			case 6:
				s.planEnergy = are.ExistingCollector.(*prometheus.GaugeVec)
			case 7:
				s.planCount = are.ExistingCollector.(*prometheus.GaugeVec)
			}
		}
	}
	return s, nil
}

// RecordTick updates the per-tick counters and gauges.
func (s *PromSink) RecordTick(t coremetrics.TickSample) error {
	s.ticks.WithLabelValues(strconv.FormatBool(t.OK), t.ErrorCode).Inc()
	s.headroom.Set(t.HeadroomKWh)
	s.dataAge.Set(t.DataAgeSeconds)
	if t.BreakerOpen {
		s.breaker.Set(1)
	} else {
		s.breaker.Set(0)
	}
	return nil
}

// RecordPlan updates the plan gauges.
func (s *PromSink) RecordPlan(p coremetrics.PlanSample) error {
	s.planEnergy.WithLabelValues(p.Direction.String(), p.Day).Set(p.TotalEnergyKWh)
	s.planCount.WithLabelValues(p.Direction.String(), p.Day).Set(float64(p.WindowCount))
	return nil
}

// RecordActuation counts the call and observes its latency.
func (s *PromSink) RecordActuation(a coremetrics.ActuationSample) error {
	s.actuations.WithLabelValues(a.Direction.String(), a.Op, strconv.FormatBool(a.OK)).Inc()
	s.latency.WithLabelValues(a.Direction.String(), a.Op).Observe(a.Latency.Seconds())
	return nil
}
