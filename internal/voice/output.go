package voice

import (
	"context"
	"log/slog"
	"math"

	"halcyon/internal/eventbus"
)

// AudioSender delivers audio to a Wyoming endpoint.
type AudioSender interface {
	Send(ctx context.Context, host string, port int, audio []byte) error
}

// OutputRouter delivers synthesized speech, honoring privacy and DND
// zones. Blocked rooms get a short chime instead of speech.
type OutputRouter struct {
	registry *Registry
	conv     *ConversationRouter
	sender   AudioSender
	bus      eventbus.Publisher
}

// NewOutputRouter creates an output router.
func NewOutputRouter(registry *Registry, conv *ConversationRouter, sender AudioSender, bus eventbus.Publisher) *OutputRouter {
	return &OutputRouter{registry: registry, conv: conv, sender: sender, bus: bus}
}

// Route delivers audio to a room. Returns true iff speech was delivered
// and acknowledged.
func (o *OutputRouter) Route(ctx context.Context, persona, uuid, roomID string, audio []byte) bool {
	if !o.conv.CanSpeakIn(roomID, persona) {
		switch {
		case o.registry.IsPrivacyZone(roomID):
			o.sendChime(ctx, roomID, 200)
			o.bus.Publish("voice/error", map[string]any{
				"code": "privacy_zone", "message": "speech suppressed", "room_id": roomID, "uuid": uuid,
			})
		case o.registry.IsDNDZone(roomID):
			o.sendChime(ctx, roomID, 150)
		}
		return false
	}

	host, port, err := o.registry.OutputTarget(roomID)
	if err != nil {
		slog.Error("output target lookup failed", "room_id", roomID, "error", err)
		o.bus.Publish("voice/error", map[string]any{
			"code": "room_not_found", "message": err.Error(), "room_id": roomID, "uuid": uuid,
		})
		return false
	}

	if err := o.sender.Send(ctx, host, port, audio); err != nil {
		slog.Error("audio delivery failed", "room_id", roomID, "error", err)
		o.bus.Publish("voice/error", map[string]any{
			"code": "routing_failed", "message": err.Error(), "room_id": roomID, "uuid": uuid,
		})
		return false
	}
	return true
}

// sendChime is best-effort; a blocked room losing its chime is not worth
// an error path.
func (o *OutputRouter) sendChime(ctx context.Context, roomID string, durationMS int) {
	host, port, err := o.registry.OutputTarget(roomID)
	if err != nil {
		return
	}
	if err := o.sender.Send(ctx, host, port, Chime(durationMS)); err != nil {
		slog.Debug("chime delivery failed", "room_id", roomID, "error", err)
	}
}

const (
	chimeSampleRate = 16000
	chimeFrequency  = 880.0
	chimeAmplitude  = 0.3
)

// Chime generates a PCM sine tone (16kHz, 16-bit, mono) with a 10% fade
// on both ends to avoid clicks.
func Chime(durationMS int) []byte {
	samples := chimeSampleRate * durationMS / 1000
	fade := samples / 10
	out := make([]byte, samples*2)
	for i := range samples {
		v := chimeAmplitude * math.Sin(2*math.Pi*chimeFrequency*float64(i)/chimeSampleRate)
		if i < fade {
			v *= float64(i) / float64(fade)
		} else if i >= samples-fade {
			v *= float64(samples-1-i) / float64(fade)
		}
		s := int16(v * math.MaxInt16)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
