// Command simulator runs a stand-in for the battery inverter: it answers
// actuator commands with acks, mirrors set-points to retained status
// topics and publishes telemetry with a synthetic carbon-intensity
// forecast. Useful for exercising the controller without hardware.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var (
		broker   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		prefix   = flag.String("topic-prefix", "battery", "MQTT topic prefix")
		interval = flag.Duration("interval", 10*time.Second, "telemetry publish interval")
		capacity = flag.Float64("capacity", 10, "battery capacity kWh")
		soc      = flag.Float64("soc", 60, "initial state of charge percent")
		charge   = flag.Float64("charge-rate", 3, "charge rate kW")
		disch    = flag.Float64("discharge-rate", 3, "discharge rate kW")
		pvPeak   = flag.Float64("pv-peak", 4, "peak solar power kW")
		verbose  = flag.Bool("verbose", false, "enable verbose logging")
	)
	flag.Parse()

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inv := &Inverter{
		Broker:      *broker,
		TopicPrefix: *prefix,
		Interval:    *interval,
		PVPeakKW:    *pvPeak,
		Battery: &Battery{
			CapacityKWh:     *capacity,
			SoC:             *soc,
			ChargeRateKW:    *charge,
			DischargeRateKW: *disch,
		},
	}
	if err := inv.Run(ctx); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("simulator: %v", err)
	}
}
