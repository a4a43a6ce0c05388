package test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/exportmon/exportmon/core/model"
	"github.com/exportmon/exportmon/infra/mqtt"
)

func waitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	conf := `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`
	dir := t.TempDir()
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{
			{
				HostFilePath:      path,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0644,
			},
		},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForMQTTReady(broker, 5*time.Second); err != nil {
		t.Logf("mosquitto not ready at %s: %v", broker, err)
		t.Skip("Mosquitto not ready after retries")
	}
	return cont, broker
}

// connectInverterStub answers discharge commands with acks and mirrors the
// applied set-points to the retained status topic, like the real inverter
// bridge does.
func connectInverterStub(broker string, t *testing.T) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("inverter-stub")
	cli := paho.NewClient(opts)
	var connErr error
	for i := 0; i < 5; i++ {
		token := cli.Connect()
		token.Wait()
		connErr = token.Error()
		if connErr == nil {
			break
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	if connErr != nil {
		t.Logf("stub connect failed: %v", connErr)
		t.Skip("Mosquitto not ready after retries")
	}

	status := model.ActuatorStatus{}
	if token := cli.Subscribe("battery/discharge/command", 1, func(_ paho.Client, m paho.Message) {
		var cmd struct {
			CommandID string  `json:"command_id"`
			Op        string  `json:"op"`
			Value     float64 `json:"value"`
			Enabled   bool    `json:"enabled"`
		}
		_ = json.Unmarshal(m.Payload(), &cmd)
		switch cmd.Op {
		case "set_power":
			status.PowerKW = cmd.Value
		case "set_duration":
			status.DurationMinutes = cmd.Value
		case "set_cutoff":
			status.CutoffSoC = cmd.Value
		case "set_enabled":
			status.Enabled = cmd.Enabled
		}
		st, _ := json.Marshal(status)
		cli.Publish("battery/discharge/status", 1, true, st)
		ack, _ := json.Marshal(map[string]string{"command_id": cmd.CommandID})
		cli.Publish("battery/discharge/ack", 1, false, ack)
	}); token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}
	return cli
}

func TestActuatorRoundTripWithMQTTContainer(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()

	cont, broker := startMosquitto(ctx, t)
	defer func() { _ = cont.Terminate(ctx) }()

	stub := connectInverterStub(broker, t)
	defer stub.Disconnect(100)

	client, err := mqtt.NewClient(mqtt.Config{Broker: broker, ClientID: "exportmon-test"})
	if err != nil {
		t.Fatalf("mqtt client: %v", err)
	}
	defer client.Close()

	// Telemetry flows from the retained document to Read.
	tel, _ := json.Marshal(map[string]any{
		"soc":                 72.5,
		"pv_energy_today_kwh": 4.2,
		"grid_feed_today_kwh": 1.1,
		"forecast_today_kwh":  5.0,
	})
	if token := stub.Publish("battery/telemetry", 1, true, tel); token.Wait() && token.Error() != nil {
		t.Fatalf("publish telemetry: %v", token.Error())
	}

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var got model.Telemetry
	for {
		got, err = client.Read(readCtx)
		if err == nil {
			break
		}
		select {
		case <-readCtx.Done():
			t.Fatalf("telemetry never arrived: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if got.SoC != 72.5 || got.PVEnergyTodayKWh != 4.2 {
		t.Fatalf("telemetry: %+v", got)
	}

	// A command round-trips: publish, ack, status read-back.
	act := client.Actuator(model.Discharge)
	cmdCtx, cancelCmd := context.WithTimeout(ctx, 5*time.Second)
	defer cancelCmd()
	if err := act.SetPowerKW(cmdCtx, 3.0); err != nil {
		t.Fatalf("set power: %v", err)
	}
	if err := act.SetEnabled(cmdCtx, true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := act.Status(ctx)
		if err == nil && st.PowerKW == 3.0 && st.Enabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never converged: %+v err=%v", st, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
