// Package mqtt implements the battery adapter interfaces over MQTT. The
// inverter (or a simulator) publishes retained telemetry and status
// documents; commands are published with a correlation ID and acknowledged
// on a per-direction ack topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/exportmon/exportmon/core/model"
	"github.com/exportmon/exportmon/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string          `json:"broker" yaml:"broker"`
	ClientID    string          `json:"client_id" yaml:"client_id"`
	Username    string          `json:"username" yaml:"username"`
	Password    string          `json:"password" yaml:"password"`
	TopicPrefix string          `json:"topic_prefix" yaml:"topic_prefix"`
	UseTLS      bool            `json:"use_tls" yaml:"use_tls"`
	ClientCert  string          `json:"client_cert" yaml:"client_cert"`
	ClientKey   string          `json:"client_key" yaml:"client_key"`
	CABundle    string          `json:"ca_bundle" yaml:"ca_bundle"`
	QoS         map[string]byte `json:"qos" yaml:"qos"`
	TLSConfig   *tls.Config     `json:"-" yaml:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "battery"
	}
	if c.ClientID == "" {
		c.ClientID = "exportmon"
	}
}

// pahoClient is the slice of the Paho API the adapter needs; a mock
// implementation backs the unit tests.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// telemetryDoc is the retained telemetry document published by the
// inverter bridge.
type telemetryDoc struct {
	SoC                 float64         `json:"soc"`
	PVEnergyTodayKWh    float64         `json:"pv_energy_today_kwh"`
	GridFeedTodayKWh    float64         `json:"grid_feed_today_kwh"`
	ForecastTodayKWh    float64         `json:"forecast_today_kwh"`
	ForecastTomorrowKWh float64         `json:"forecast_tomorrow_kwh"`
	CIForecast          json.RawMessage `json:"ci_forecast,omitempty"`
	CIAttributes        map[string]any  `json:"ci_attributes,omitempty"`
}

// command is published for every actuator write.
type command struct {
	CommandID string  `json:"command_id"`
	Op        string  `json:"op"`
	Value     float64 `json:"value,omitempty"`
	Enabled   bool    `json:"enabled"`
	Timestamp int64   `json:"timestamp"`
}

// Client connects the core to an inverter over MQTT. It implements
// battery.TelemetrySource; per-direction actuators are obtained with
// Actuator.
type Client struct {
	cli    pahoClient
	prefix string
	qos    map[string]byte
	log    logger.Logger

	mu         sync.Mutex
	telemetry  *model.Telemetry
	statuses   map[model.Direction]model.ActuatorStatus
	haveStatus map[model.Direction]bool
	ackChans   map[string]chan struct{}
}

// NewClient connects to the broker and subscribes to the telemetry, status
// and ack topics. Subscriptions are re-established on reconnect.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	c := &Client{
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		log:        log,
		statuses:   make(map[model.Direction]model.ActuatorStatus),
		haveStatus: make(map[model.Direction]bool),
		ackChans:   make(map[string]chan struct{}),
	}

	opts.OnConnect = func(cli paho.Client) {
		log.Infof("MQTT connected")
		subs := map[string]paho.MessageHandler{
			c.prefix + "/telemetry": c.onTelemetry,
			c.prefix + "/+/status":  c.onStatus,
			c.prefix + "/+/ack":     c.onAck,
		}
		for topic, handler := range subs {
			if token := cli.Subscribe(topic, c.qosFor("subscribe"), handler); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = cli
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	if c.cli != nil {
		c.cli.Disconnect(250)
	}
}

func (c *Client) qosFor(class string) byte {
	if q, ok := c.qos[class]; ok {
		return q
	}
	return 0
}

func (c *Client) onTelemetry(_ paho.Client, msg paho.Message) {
	var doc telemetryDoc
	if err := json.Unmarshal(msg.Payload(), &doc); err != nil {
		c.log.Errorf("failed to decode telemetry: %v", err)
		return
	}
	tel := model.Telemetry{
		SoC:                 doc.SoC,
		PVEnergyTodayKWh:    doc.PVEnergyTodayKWh,
		GridFeedTodayKWh:    doc.GridFeedTodayKWh,
		ForecastTodayKWh:    doc.ForecastTodayKWh,
		ForecastTomorrowKWh: doc.ForecastTomorrowKWh,
		ForecastState:       string(doc.CIForecast),
		ForecastAttrs:       doc.CIAttributes,
		ReadAt:              time.Now(),
	}
	c.mu.Lock()
	c.telemetry = &tel
	c.mu.Unlock()
}

func (c *Client) onStatus(_ paho.Client, msg paho.Message) {
	dir, ok := directionFromTopic(msg.Topic())
	if !ok {
		return
	}
	var st model.ActuatorStatus
	if err := json.Unmarshal(msg.Payload(), &st); err != nil {
		c.log.Errorf("failed to decode status: %v", err)
		return
	}
	c.mu.Lock()
	c.statuses[dir] = st
	c.haveStatus[dir] = true
	c.mu.Unlock()
}

func (c *Client) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		c.log.Errorf("failed to decode ack: %v", err)
		return
	}
	c.mu.Lock()
	if ch, ok := c.ackChans[m.CommandID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
}

// directionFromTopic extracts the direction segment of "<prefix>/<dir>/...".
func directionFromTopic(topic string) (model.Direction, bool) {
	segments := splitTopic(topic)
	if len(segments) < 2 {
		return "", false
	}
	switch model.Direction(segments[len(segments)-2]) {
	case model.Discharge:
		return model.Discharge, true
	case model.Charge:
		return model.Charge, true
	}
	return "", false
}

func splitTopic(topic string) []string {
	var out []string
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '/' {
			out = append(out, topic[start:i])
			start = i + 1
		}
	}
	return append(out, topic[start:])
}

// Read implements battery.TelemetrySource from the last retained document.
func (c *Client) Read(_ context.Context) (model.Telemetry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.telemetry == nil {
		return model.Telemetry{}, fmt.Errorf("no telemetry received yet")
	}
	return *c.telemetry, nil
}

// Actuator returns the adapter for one battery direction.
func (c *Client) Actuator(dir model.Direction) *Actuator {
	return &Actuator{client: c, dir: dir}
}

// sendCommand publishes a command and waits for its acknowledgment until
// the context deadline expires.
func (c *Client) sendCommand(ctx context.Context, dir model.Direction, cmd command) error {
	cmd.CommandID = uuid.NewString()
	cmd.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	ack := make(chan struct{}, 1)
	c.mu.Lock()
	c.ackChans[cmd.CommandID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.ackChans, cmd.CommandID)
		c.mu.Unlock()
	}()

	topic := fmt.Sprintf("%s/%s/command", c.prefix, dir)
	token := c.cli.Publish(topic, c.qosFor("command"), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.log.Debugf("sent %s command %s to %s", cmd.Op, cmd.CommandID, topic)

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Actuator implements battery.Actuator for one direction over the shared
// client.
type Actuator struct {
	client *Client
	dir    model.Direction
}

func (a *Actuator) Direction() model.Direction { return a.dir }

func (a *Actuator) SetPowerKW(ctx context.Context, kw float64) error {
	return a.client.sendCommand(ctx, a.dir, command{Op: "set_power", Value: kw})
}

func (a *Actuator) SetDurationMinutes(ctx context.Context, minutes float64) error {
	return a.client.sendCommand(ctx, a.dir, command{Op: "set_duration", Value: minutes})
}

func (a *Actuator) SetCutoffSoC(ctx context.Context, pct float64) error {
	return a.client.sendCommand(ctx, a.dir, command{Op: "set_cutoff", Value: pct})
}

func (a *Actuator) SetEnabled(ctx context.Context, on bool) error {
	return a.client.sendCommand(ctx, a.dir, command{Op: "set_enabled", Enabled: on})
}

// Status returns the last retained status document for the direction.
func (a *Actuator) Status(_ context.Context) (model.ActuatorStatus, error) {
	a.client.mu.Lock()
	defer a.client.mu.Unlock()
	if !a.client.haveStatus[a.dir] {
		return model.ActuatorStatus{}, fmt.Errorf("no %s status received yet", a.dir)
	}
	return a.client.statuses[a.dir], nil
}
