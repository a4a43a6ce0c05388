package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/exportmon/exportmon/core/model"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *stubToken) Error() error { return t.err }

type stubClient struct {
	mu        sync.Mutex
	published []struct {
		topic   string
		payload []byte
	}
	onPublish func(topic string, payload []byte)
	pubErr    error
}

func (c *stubClient) IsConnected() bool { return true }
func (c *stubClient) Connect() paho.Token {
	return &stubToken{}
}
func (c *stubClient) Disconnect(uint) {}
func (c *stubClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	raw := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, struct {
		topic   string
		payload []byte
	}{topic, raw})
	cb := c.onPublish
	c.mu.Unlock()
	if cb != nil {
		cb(topic, raw)
	}
	return &stubToken{err: c.pubErr}
}
func (c *stubClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return &stubToken{}
}

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 0 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func newStubbedClient(t *testing.T) (*Client, *stubClient) {
	t.Helper()
	stub := &stubClient{}
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return stub }
	t.Cleanup(func() { newMQTTClient = orig })

	c, err := NewClient(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c, stub
}

func TestReadBeforeTelemetry(t *testing.T) {
	c, _ := newStubbedClient(t)
	if _, err := c.Read(context.Background()); err == nil {
		t.Fatal("expected error before the first telemetry document")
	}
}

func TestTelemetryDocument(t *testing.T) {
	c, _ := newStubbedClient(t)

	doc := `{
		"soc": 55.5,
		"pv_energy_today_kwh": 3.2,
		"grid_feed_today_kwh": 0.8,
		"forecast_today_kwh": 6.1,
		"forecast_tomorrow_kwh": 4.4,
		"ci_forecast": {"data": [{"from": "2026-03-14T10:00Z", "to": "2026-03-14T10:30Z", "intensity": 200}]},
		"ci_attributes": {"shortname": "South England"}
	}`
	c.onTelemetry(nil, stubMessage{topic: "battery/telemetry", payload: []byte(doc)})

	tel, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tel.SoC != 55.5 || tel.GridFeedTodayKWh != 0.8 || tel.ForecastTomorrowKWh != 4.4 {
		t.Fatalf("telemetry: %+v", tel)
	}
	if tel.ForecastState == "" {
		t.Fatal("forecast state not carried through")
	}
	if tel.ForecastAttrs["shortname"] != "South England" {
		t.Fatalf("attrs: %v", tel.ForecastAttrs)
	}
	if tel.ReadAt.IsZero() {
		t.Fatal("read timestamp not set")
	}
}

func TestStatusPerDirection(t *testing.T) {
	c, _ := newStubbedClient(t)

	c.onStatus(nil, stubMessage{
		topic:   "battery/discharge/status",
		payload: []byte(`{"enabled": true, "power_kw": 3, "duration_minutes": 60, "cutoff_soc": 20}`),
	})

	st, err := c.Actuator(model.Discharge).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Enabled || st.PowerKW != 3 || st.CutoffSoC != 20 {
		t.Fatalf("status: %+v", st)
	}

	// The other direction has not reported yet.
	if _, err := c.Actuator(model.Charge).Status(context.Background()); err == nil {
		t.Fatal("charge status should be unavailable")
	}
}

func TestCommandAckRoundTrip(t *testing.T) {
	c, stub := newStubbedClient(t)

	// Answer every published command with its ack, like the inverter does.
	stub.onPublish = func(topic string, payload []byte) {
		var cmd struct {
			CommandID string `json:"command_id"`
			Op        string `json:"op"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			t.Errorf("bad command payload: %v", err)
			return
		}
		if cmd.Op != "set_power" {
			t.Errorf("op %q", cmd.Op)
		}
		ack, _ := json.Marshal(map[string]string{"command_id": cmd.CommandID})
		go c.onAck(nil, stubMessage{topic: "battery/discharge/ack", payload: ack})
	}

	act := c.Actuator(model.Discharge)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := act.SetPowerKW(ctx, 3); err != nil {
		t.Fatalf("set power: %v", err)
	}
	if stub.published[0].topic != "battery/discharge/command" {
		t.Fatalf("topic %q", stub.published[0].topic)
	}
}

func TestCommandTimesOutWithoutAck(t *testing.T) {
	c, _ := newStubbedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Actuator(model.Charge).SetEnabled(ctx, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestCommandPublishError(t *testing.T) {
	c, stub := newStubbedClient(t)
	stub.pubErr = errors.New("broker gone")

	err := c.Actuator(model.Discharge).SetCutoffSoC(context.Background(), 20)
	if err == nil {
		t.Fatal("publish failure swallowed")
	}
}

func TestDirectionFromTopic(t *testing.T) {
	cases := map[string]struct {
		dir model.Direction
		ok  bool
	}{
		"battery/discharge/status": {model.Discharge, true},
		"battery/charge/ack":       {model.Charge, true},
		"battery/telemetry":        {"", false},
		"battery/other/status":     {"", false},
	}
	for topic, want := range cases {
		dir, ok := directionFromTopic(topic)
		if dir != want.dir || ok != want.ok {
			t.Errorf("directionFromTopic(%q) = %s/%t", topic, dir, ok)
		}
	}
}
