package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// actuatorState is one direction's live set-points, mirrored to the
// retained status topic after every change.
type actuatorState struct {
	Enabled         bool    `json:"enabled"`
	PowerKW         float64 `json:"power_kw"`
	DurationMinutes float64 `json:"duration_minutes"`
	CutoffSoC       float64 `json:"cutoff_soc"`

	startedAt time.Time
}

// Inverter simulates the battery inverter: it answers commands with acks,
// keeps retained status documents current and publishes telemetry on a
// fixed interval.
type Inverter struct {
	Broker      string
	TopicPrefix string
	Interval    time.Duration
	PVPeakKW    float64
	Battery     *Battery

	client paho.Client

	mu        sync.Mutex
	states    map[string]*actuatorState
	pvToday   float64
	feedToday float64
	day       int
}

func (inv *Inverter) Run(ctx context.Context) error {
	inv.states = map[string]*actuatorState{
		"discharge": {},
		"charge":    {},
	}

	opts := paho.NewClientOptions().AddBroker(inv.Broker).SetClientID("inverter-sim")
	opts.AutoReconnect = true
	opts.OnConnect = func(cli paho.Client) {
		topic := inv.TopicPrefix + "/+/command"
		if token := cli.Subscribe(topic, 1, inv.onCommand); token.Wait() && token.Error() != nil {
			log.Printf("subscribe %s: %v", topic, token.Error())
		}
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	inv.client = cli
	defer cli.Disconnect(250)

	for dir := range inv.states {
		inv.publishStatus(dir)
	}
	inv.publishTelemetry(time.Now())

	ticker := time.NewTicker(inv.Interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			inv.step(now, now.Sub(last))
			last = now
		}
	}
}

func (inv *Inverter) onCommand(_ paho.Client, msg paho.Message) {
	dir, ok := directionOf(msg.Topic())
	if !ok {
		return
	}
	var cmd struct {
		CommandID string  `json:"command_id"`
		Op        string  `json:"op"`
		Value     float64 `json:"value"`
		Enabled   bool    `json:"enabled"`
	}
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("bad command on %s: %v", msg.Topic(), err)
		return
	}

	inv.mu.Lock()
	st := inv.states[dir]
	switch cmd.Op {
	case "set_power":
		st.PowerKW = cmd.Value
	case "set_duration":
		st.DurationMinutes = cmd.Value
	case "set_cutoff":
		st.CutoffSoC = cmd.Value
	case "set_enabled":
		st.Enabled = cmd.Enabled
		if cmd.Enabled {
			st.startedAt = time.Now()
		}
	default:
		log.Printf("unknown op %q on %s", cmd.Op, msg.Topic())
		inv.mu.Unlock()
		return
	}
	inv.mu.Unlock()

	inv.publishAck(dir, cmd.CommandID)
	inv.publishStatus(dir)
	log.Printf("%s %s applied", dir, cmd.Op)
}

func directionOf(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", false
	}
	dir := parts[len(parts)-2]
	if dir != "discharge" && dir != "charge" {
		return "", false
	}
	return dir, true
}

// step advances the physics by dt and publishes fresh telemetry.
func (inv *Inverter) step(now time.Time, dt time.Duration) {
	inv.mu.Lock()
	if now.YearDay() != inv.day {
		inv.day = now.YearDay()
		inv.pvToday = 0
		inv.feedToday = 0
	}

	inv.pvToday += pvPowerKW(now, inv.PVPeakKW) * dt.Hours()

	var expired []string
	for dir, st := range inv.states {
		if !st.Enabled {
			continue
		}
		if st.DurationMinutes > 0 && now.Sub(st.startedAt) > time.Duration(st.DurationMinutes*float64(time.Minute)) {
			st.Enabled = false
			expired = append(expired, dir)
			continue
		}
		switch dir {
		case "discharge":
			if st.CutoffSoC > 0 && inv.Battery.StateOfCharge() <= st.CutoffSoC {
				st.Enabled = false
				expired = append(expired, dir)
				continue
			}
			inv.feedToday += inv.Battery.ApplyPower(st.PowerKW, dt)
		case "charge":
			if inv.Battery.StateOfCharge() >= 100 {
				st.Enabled = false
				expired = append(expired, dir)
				continue
			}
			inv.Battery.ApplyPower(-st.PowerKW, dt)
		}
	}
	inv.mu.Unlock()

	for _, dir := range expired {
		inv.publishStatus(dir)
	}
	inv.publishTelemetry(now)
}

// pvPowerKW approximates solar production as a half-sine between 07:00 and
// 19:00 local time.
func pvPowerKW(now time.Time, peakKW float64) float64 {
	h := float64(now.Hour()) + float64(now.Minute())/60
	if h < 7 || h > 19 {
		return 0
	}
	return peakKW * math.Sin((h-7)/12*math.Pi)
}

func (inv *Inverter) publishAck(dir, commandID string) {
	payload, _ := json.Marshal(struct {
		CommandID string `json:"command_id"`
	}{CommandID: commandID})
	topic := fmt.Sprintf("%s/%s/ack", inv.TopicPrefix, dir)
	if token := inv.client.Publish(topic, 1, false, payload); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("publish ack: %v", token.Error())
	}
}

func (inv *Inverter) publishStatus(dir string) {
	inv.mu.Lock()
	payload, _ := json.Marshal(inv.states[dir])
	inv.mu.Unlock()
	topic := fmt.Sprintf("%s/%s/status", inv.TopicPrefix, dir)
	if token := inv.client.Publish(topic, 1, true, payload); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("publish status: %v", token.Error())
	}
}

func (inv *Inverter) publishTelemetry(now time.Time) {
	inv.mu.Lock()
	doc := map[string]any{
		"soc":                   inv.Battery.StateOfCharge(),
		"pv_energy_today_kwh":   inv.pvToday,
		"grid_feed_today_kwh":   inv.feedToday,
		"forecast_today_kwh":    inv.PVPeakKW * 4,
		"forecast_tomorrow_kwh": inv.PVPeakKW * 4,
		"ci_forecast":           syntheticForecast(now),
	}
	inv.mu.Unlock()
	payload, _ := json.Marshal(doc)
	topic := inv.TopicPrefix + "/telemetry"
	if token := inv.client.Publish(topic, 1, true, payload); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("publish telemetry: %v", token.Error())
	}
}

// syntheticForecast builds 48 half-hour carbon-intensity periods with a
// morning and evening peak, shaped like the public intensity feeds.
func syntheticForecast(now time.Time) map[string]any {
	start := now.Truncate(30 * time.Minute)
	records := make([]map[string]any, 0, 48)
	for i := 0; i < 48; i++ {
		from := start.Add(time.Duration(i) * 30 * time.Minute)
		to := from.Add(30 * time.Minute)
		h := float64(from.Hour()) + float64(from.Minute())/60
		intensity := 180 + 80*math.Sin((h-4)/24*2*math.Pi) + 40*math.Sin(h/12*2*math.Pi)
		index := "moderate"
		switch {
		case intensity < 140:
			index = "low"
		case intensity > 240:
			index = "high"
		}
		records = append(records, map[string]any{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
			"intensity": map[string]any{
				"forecast": math.Round(intensity),
				"index":    index,
			},
		})
	}
	return map[string]any{"data": records}
}
