package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker connection configuration.
type MQTTConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
}

// MQTTPublisher publishes telemetry events over MQTT at QoS 0. Events are
// fire-and-forget; a lost broker connection drops events with a debug log
// while paho reconnects in the background.
type MQTTPublisher struct {
	client    mqtt.Client
	baseTopic string
}

// NewMQTTPublisher connects to the broker and returns a Publisher.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "halcyon-telemetry"
	}
	baseTopic := cfg.BaseTopic
	if baseTopic == "" {
		baseTopic = "halcyon"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s:%d timed out", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	slog.Info("MQTT publisher connected", "host", cfg.Host, "port", cfg.Port, "base_topic", baseTopic)

	return &MQTTPublisher{client: client, baseTopic: baseTopic}, nil
}

// Publish emits the event under baseTopic, stamping a ts field.
func (p *MQTTPublisher) Publish(topic string, payload map[string]any) {
	full := p.baseTopic + "/" + topic

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	if _, ok := body["ts"]; !ok {
		body["ts"] = float64(time.Now().UnixMilli()) / 1000.0
	}

	data, err := json.Marshal(body)
	if err != nil {
		slog.Debug("telemetry marshal failed", "topic", full, "error", err)
		return
	}

	token := p.client.Publish(full, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Debug("telemetry publish failed", "topic", full, "error", err)
		}
	}()
}

// Client exposes the underlying MQTT client so the Home Assistant bridge
// can share one broker connection.
func (p *MQTTPublisher) Client() mqtt.Client {
	return p.client
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
