package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/exportmon/exportmon/core/metrics"
	"github.com/exportmon/exportmon/infra/logger"
)

// InfluxSink writes control-loop samples to InfluxDB using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg coremetrics.Config) *InfluxSink {
	base := strings.TrimSuffix(cfg.InfluxURL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink when the health check fails, so a missing database never takes
// the control loop down.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordTick writes one tick sample.
func (s *InfluxSink) RecordTick(t coremetrics.TickSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("control_tick").
		AddTag("ok", strconv.FormatBool(t.OK)).
		AddTag("error", t.ErrorCode).
		AddField("headroom_kwh", t.HeadroomKWh).
		AddField("data_age_seconds", t.DataAgeSeconds).
		AddField("breaker_open", t.BreakerOpen).
		SetTime(t.At)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPlan writes one plan sample.
func (s *InfluxSink) RecordPlan(pl coremetrics.PlanSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("plan").
		AddTag("direction", pl.Direction.String()).
		AddTag("day", pl.Day).
		AddField("generation", int64(pl.Generation)).
		AddField("total_energy_kwh", pl.TotalEnergyKWh).
		AddField("windows", pl.WindowCount).
		SetTime(pl.At)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordActuation writes one guarded-call sample.
func (s *InfluxSink) RecordActuation(a coremetrics.ActuationSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("actuation").
		AddTag("direction", a.Direction.String()).
		AddTag("op", a.Op).
		AddTag("ok", strconv.FormatBool(a.OK)).
		AddTag("error", a.ErrorCode).
		AddField("latency_seconds", a.Latency.Seconds()).
		SetTime(a.At)
	return s.writeAPI.WritePoint(ctx, p)
}
