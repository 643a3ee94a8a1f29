// Package eventbus publishes telemetry events to the household MQTT broker.
// Every component receives a Publisher at construction; there is no global
// bus, so tests can capture events with the Recorder.
package eventbus

import (
	"log/slog"
	"sync"
)

// Publisher emits a telemetry event on a topic. Implementations are
// best-effort: delivery failures are logged and never propagate to the
// request path.
type Publisher interface {
	Publish(topic string, payload map[string]any)
}

// Event is a captured telemetry event.
type Event struct {
	Topic   string
	Payload map[string]any
}

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish captures the event.
func (r *Recorder) Publish(topic string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByTopic returns the captured events for a topic.
func (r *Recorder) ByTopic(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// LogPublisher writes events to the structured log. It stands in for the
// broker when MQTT is disabled.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a Publisher backed by slog.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event at debug level.
func (p *LogPublisher) Publish(topic string, payload map[string]any) {
	p.logger.Debug("telemetry event", "topic", topic, "payload", payload)
}
