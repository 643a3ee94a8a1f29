// Package habridge forwards service calls to Home Assistant over MQTT and
// receives asynchronous state-change events.
package habridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	callTopic  = "halcyon/ha/call"
	eventTopic = "halcyon/ha/event/#"
)

// EventHandler receives a Home Assistant event.
type EventHandler func(topic string, payload []byte)

// Bridge publishes service calls at QoS 1 so Home Assistant sees every
// command even across broker hiccups.
type Bridge struct {
	client   mqtt.Client
	ownsConn bool
}

// Config holds a dedicated broker connection for the bridge.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewBridge connects to the broker with its own client.
func NewBridge(cfg Config) (*Bridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID("halcyon-habridge").
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("ha bridge connect to %s:%d timed out", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("ha bridge connect: %w", err)
	}

	slog.Info("HA bridge connected", "host", cfg.Host, "port", cfg.Port)
	return &Bridge{client: client, ownsConn: true}, nil
}

// NewBridgeFromClient reuses an existing broker connection, typically the
// telemetry publisher's.
func NewBridgeFromClient(client mqtt.Client) *Bridge {
	return &Bridge{client: client}
}

// CallService publishes one service call and waits for broker ack.
func (b *Bridge) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	payload := map[string]any{
		"domain":  domain,
		"service": service,
		"data":    data,
		"ts":      float64(time.Now().UnixMilli()) / 1000.0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal service call: %w", err)
	}

	token := b.client.Publish(callTopic, 1, false, body)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("service call %s.%s: %w", domain, service, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("service call %s.%s: %w", domain, service, err)
	}
	return nil
}

// OnEvent subscribes the handler to Home Assistant events.
func (b *Bridge) OnEvent(handler EventHandler) error {
	token := b.client.Subscribe(eventTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("ha event subscribe timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ha event subscribe: %w", err)
	}
	return nil
}

// Stop disconnects the bridge's own connection, if it has one.
func (b *Bridge) Stop() {
	if b.ownsConn {
		b.client.Disconnect(250)
	}
}
