// Package app assembles the service from its configuration: MQTT adapter,
// metrics sinks, safety guard and coordinator.
package app

import (
	"context"
	"fmt"

	"github.com/exportmon/exportmon/config"
	"github.com/exportmon/exportmon/core/battery"
	"github.com/exportmon/exportmon/core/coordinator"
	"github.com/exportmon/exportmon/core/guard"
	coremetrics "github.com/exportmon/exportmon/core/metrics"
	"github.com/exportmon/exportmon/core/model"
	"github.com/exportmon/exportmon/infra/logger"
	"github.com/exportmon/exportmon/infra/metrics"
	"github.com/exportmon/exportmon/infra/mqtt"
	"github.com/exportmon/exportmon/internal/eventbus"
)

// Service orchestrates the coordinator and its adapters.
type Service struct {
	Coordinator *coordinator.Coordinator
	client      *mqtt.Client
	bus         eventbus.EventBus
	log         logger.Logger
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	client, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}

	var sinks []coremetrics.Sink
	promEnabled := cfg.Metrics.PrometheusEnabled
	promPort := cfg.Metrics.PrometheusPort
	if promEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	breaker := guard.NewCircuitBreaker("actuator", cfg.Guard.FailureThreshold, cfg.Guard.Cooldown(), logger.New("breaker"))
	stale := guard.NewStaleDetector(cfg.Guard.StaleMaxAge())
	g := guard.New(breaker, stale, cfg.Guard.CallTimeout(), logger.New("guard"))

	coord, err := coordinator.New(coordinator.Deps{
		Source:    client,
		Discharge: client.Actuator(model.Discharge),
		Charge:    client.Actuator(model.Charge),
		Settings:  battery.StaticSettings(cfg.Battery.Settings()),
		Guard:     g,
		Planner:   cfg.Planner,
		Control:   cfg.AutoControl,
		Bus:       bus,
		Sink:      sink,
		Log:       logger.New("coordinator"),
	}, cfg.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	return &Service{
		Coordinator: coord,
		client:      client,
		bus:         bus,
		log:         logg,
		promEnabled: promEnabled,
		promPort:    promPort,
	}, nil
}

// Run starts the control loop and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	s.log.Infof("starting control loop")
	return s.Coordinator.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.client.Close()
	return nil
}
