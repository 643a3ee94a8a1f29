package intent

import (
	"context"
	"fmt"
	"log/slog"

	"halcyon/internal/trust"
)

// Context carries the per-turn access decision into handlers.
type Context struct {
	Role           trust.Role
	AllowSensitive bool
	ContextMode    trust.ContextMode
	SpeakerUUID    string
	SessionID      string
	Persona        string
}

// Result is the outcome of dispatching one intent.
type Result struct {
	OK      bool
	Spoken  string
	Details map[string]any
}

// HandlerFunc executes one intent.
type HandlerFunc func(ctx context.Context, slots map[string]any, ic Context) Result

// ServiceCaller forwards a service call to the home-automation bridge.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// MediaHandler serves the media intents. Nullable: a nil handler denies
// all media intents with a "media disabled" reply.
type MediaHandler interface {
	Recommend(ctx context.Context, slots map[string]any, ic Context) Result
	AddRequest(ctx context.Context, slots map[string]any, ic Context) Result
	AddToList(ctx context.Context, slots map[string]any, ic Context) Result
}

// sensitiveIntents require allow_sensitive from the trust decision.
var sensitiveIntents = map[string]bool{
	UnlockDoor:  true,
	OpenGarage:  true,
	DisarmAlarm: true,
}

// Dispatcher routes classified intents to their handlers with trust-gated
// admission. Handlers are registered explicitly through the Builder; there
// is no name-based discovery.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	media    MediaHandler
}

// Builder assembles a Dispatcher.
type Builder struct {
	handlers map[string]HandlerFunc
	media    MediaHandler
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]HandlerFunc)}
}

// Register binds an intent name to a handler, replacing any previous one.
func (b *Builder) Register(name string, h HandlerFunc) *Builder {
	b.handlers[name] = h
	return b
}

// WithMedia wires the media handler. May be nil.
func (b *Builder) WithMedia(m MediaHandler) *Builder {
	b.media = m
	return b
}

// WithHomeAutomation registers the built-in home-automation handlers
// against the given bridge.
func (b *Builder) WithHomeAutomation(bridge ServiceCaller) *Builder {
	b.Register(TurnOnLight, serviceHandler(bridge, "light", "turn_on", "Done."))
	b.Register(TurnOffLight, serviceHandler(bridge, "light", "turn_off", "Done."))
	b.Register(LockDoor, serviceHandler(bridge, "lock", "lock", "Locked."))
	b.Register(UnlockDoor, serviceHandler(bridge, "lock", "unlock", "Unlocked."))
	b.Register(OpenGarage, serviceHandler(bridge, "cover", "open_cover", "Opening the garage."))
	b.Register(MediaPlayPause, serviceHandler(bridge, "media_player", "media_play_pause", "Done."))
	b.Register(DisarmAlarm, disarmHandler(bridge))
	b.Register(SetTemperature, temperatureHandler(bridge))
	return b
}

// Build returns the Dispatcher.
func (b *Builder) Build() *Dispatcher {
	return &Dispatcher{handlers: b.handlers, media: b.media}
}

// Dispatch runs the admission rules and the handler for one intent.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, slots map[string]any, ic Context) Result {
	if sensitiveIntents[name] && !ic.AllowSensitive {
		return Result{
			OK:      false,
			Spoken:  "That function is not available right now.",
			Details: map[string]any{"reason": "sensitive_denied", "intent": name},
		}
	}

	if name == DisarmAlarm {
		if code, _ := slots["code"].(string); code == "" {
			return Result{OK: false, Spoken: "I need the code to disarm.", Details: map[string]any{"reason": "missing_code"}}
		}
	}

	switch name {
	case MediaRecommend, MediaRequest, MediaAddToList:
		if d.media == nil {
			return Result{OK: false, Spoken: "Media features are not available right now.", Details: map[string]any{"reason": "media_disabled"}}
		}
		switch name {
		case MediaRecommend:
			return d.media.Recommend(ctx, slots, ic)
		case MediaRequest:
			return d.media.AddRequest(ctx, slots, ic)
		default:
			return d.media.AddToList(ctx, slots, ic)
		}
	}

	h, ok := d.handlers[name]
	if !ok {
		return Result{OK: false, Spoken: "I don't know how to do that yet.", Details: map[string]any{"reason": "unknown_intent", "intent": name}}
	}
	return h(ctx, slots, ic)
}

func serviceHandler(bridge ServiceCaller, domain, service, spoken string) HandlerFunc {
	return func(ctx context.Context, slots map[string]any, _ Context) Result {
		data := map[string]any{}
		if entity, _ := slots["entity_id"].(string); entity != "" {
			data["entity_id"] = entity
		}
		if err := bridge.CallService(ctx, domain, service, data); err != nil {
			slog.Error("service call failed", "domain", domain, "service", service, "error", err)
			return Result{OK: false, Spoken: "Something went wrong executing that.", Details: map[string]any{"error": err.Error()}}
		}
		return Result{OK: true, Spoken: spoken, Details: map[string]any{"domain": domain, "service": service, "data": data}}
	}
}

func disarmHandler(bridge ServiceCaller) HandlerFunc {
	return func(ctx context.Context, slots map[string]any, _ Context) Result {
		code, _ := slots["code"].(string)
		data := map[string]any{"code": code}
		if entity, _ := slots["entity_id"].(string); entity != "" {
			data["entity_id"] = entity
		}
		if err := bridge.CallService(ctx, "alarm_control_panel", "alarm_disarm", data); err != nil {
			slog.Error("service call failed", "domain", "alarm_control_panel", "error", err)
			return Result{OK: false, Spoken: "Something went wrong executing that.", Details: map[string]any{"error": err.Error()}}
		}
		return Result{OK: true, Spoken: "Alarm disarmed.", Details: map[string]any{"domain": "alarm_control_panel", "service": "alarm_disarm"}}
	}
}

func temperatureHandler(bridge ServiceCaller) HandlerFunc {
	return func(ctx context.Context, slots map[string]any, _ Context) Result {
		temp, ok := slots["temperature"].(int)
		if !ok || temp == 0 {
			return Result{OK: false, Spoken: "I didn't catch the temperature.", Details: map[string]any{"reason": "missing_temperature"}}
		}
		data := map[string]any{"temperature": temp}
		if entity, _ := slots["entity_id"].(string); entity != "" {
			data["entity_id"] = entity
		}
		if err := bridge.CallService(ctx, "climate", "set_temperature", data); err != nil {
			slog.Error("service call failed", "domain", "climate", "error", err)
			return Result{OK: false, Spoken: "Something went wrong executing that.", Details: map[string]any{"error": err.Error()}}
		}
		return Result{OK: true, Spoken: fmt.Sprintf("Temperature set to %d.", temp), Details: data}
	}
}
