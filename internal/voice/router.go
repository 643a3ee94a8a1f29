package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"halcyon/internal/eventbus"
	"halcyon/internal/kv"
)

const roomStateTTL = time.Hour

// RoomCandidate is one room where the speaker may have been detected.
type RoomCandidate struct {
	RoomID     string
	Confidence float64
}

// RouterConfig tunes follow-me handoff.
type RouterConfig struct {
	FollowMeMaxGapSec    float64 `yaml:"follow_me_max_gap_sec"`
	HandoffMinConfidence float64 `yaml:"handoff_min_confidence"`
}

// DefaultRouterConfig returns the production tuning.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{FollowMeMaxGapSec: 10, HandoffMinConfidence: 0.75}
}

// ConversationRouter tracks which room each speaker's conversation lives
// in and decides where responses may be spoken.
type ConversationRouter struct {
	registry *Registry
	state    kv.Store
	bus      eventbus.Publisher
	cfg      RouterConfig

	nowFn func() float64
}

// NewConversationRouter creates a router on the shared KV store.
func NewConversationRouter(registry *Registry, state kv.Store, bus eventbus.Publisher, cfg RouterConfig) *ConversationRouter {
	if cfg.FollowMeMaxGapSec <= 0 {
		cfg.FollowMeMaxGapSec = 10
	}
	if cfg.HandoffMinConfidence <= 0 {
		cfg.HandoffMinConfidence = 0.75
	}
	return &ConversationRouter{
		registry: registry,
		state:    state,
		bus:      bus,
		cfg:      cfg,
		nowFn:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

func lastRoomKey(uuid string) string { return "halcyon:voice:last_room:" + uuid }
func lastSeenKey(uuid string) string { return "halcyon:voice:last_seen:" + uuid }
func roomLockKey(uuid string) string { return "halcyon:voice:room_lock:" + uuid }

func (c *ConversationRouter) getState(ctx context.Context, key string) string {
	v, ok, err := c.state.Get(ctx, key)
	if err != nil {
		slog.Warn("room state read failed", "key", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// SelectActiveRoom picks the room for this turn: lock, then hint, then
// last room, then the registry default.
func (c *ConversationRouter) SelectActiveRoom(ctx context.Context, uuid, tempID, roomHint string) (string, error) {
	if uuid != "" {
		if lock := c.getState(ctx, roomLockKey(uuid)); lock != "" {
			if _, ok := c.registry.GetRoom(lock); ok {
				return lock, nil
			}
		}
	}

	if roomHint != "" {
		if _, ok := c.registry.GetRoom(roomHint); ok {
			if uuid != "" {
				c.UpdateLastRoom(ctx, uuid, roomHint)
			}
			return roomHint, nil
		}
	}

	if uuid != "" {
		if last := c.getState(ctx, lastRoomKey(uuid)); last != "" {
			if _, ok := c.registry.GetRoom(last); ok {
				return last, nil
			}
		}
	}

	return c.registry.DefaultRoom()
}

// FollowMe moves the conversation to a newly detected room. Returns
// ("", false) unless every handoff condition holds.
func (c *ConversationRouter) FollowMe(ctx context.Context, uuid string, candidates []RoomCandidate) (string, bool) {
	if uuid == "" || len(candidates) == 0 {
		return "", false
	}

	now := c.nowFn()
	lastSeenRaw := c.getState(ctx, lastSeenKey(uuid))
	if lastSeenRaw == "" {
		return "", false
	}
	var lastSeen float64
	if _, err := fmt.Sscanf(lastSeenRaw, "%f", &lastSeen); err != nil {
		return "", false
	}
	if now-lastSeen > c.cfg.FollowMeMaxGapSec {
		return "", false
	}

	lastRoom := c.getState(ctx, lastRoomKey(uuid))

	var winner RoomCandidate
	for _, cand := range candidates {
		if cand.RoomID == lastRoom {
			continue
		}
		if cand.Confidence < c.cfg.HandoffMinConfidence {
			continue
		}
		if _, ok := c.registry.GetRoom(cand.RoomID); !ok {
			continue
		}
		if cand.Confidence > winner.Confidence {
			winner = cand
		}
	}
	if winner.RoomID == "" {
		return "", false
	}

	c.UpdateLastRoom(ctx, uuid, winner.RoomID)
	c.bus.Publish("voice/handoff", map[string]any{
		"uuid":       uuid,
		"from":       lastRoom,
		"to":         winner.RoomID,
		"confidence": winner.Confidence,
	})
	return winner.RoomID, true
}

// CanSpeakIn applies the zone policy: privacy zones never speak; DND
// zones speak only for SCARLET.
func (c *ConversationRouter) CanSpeakIn(roomID, persona string) bool {
	if c.registry.IsPrivacyZone(roomID) {
		return false
	}
	if c.registry.IsDNDZone(roomID) {
		return strings.EqualFold(persona, "SCARLET")
	}
	return true
}

// SetRoomLock pins the speaker's conversation to a room; empty unpins.
func (c *ConversationRouter) SetRoomLock(ctx context.Context, uuid, roomID string) error {
	if roomID == "" {
		return c.state.Delete(ctx, roomLockKey(uuid))
	}
	if _, ok := c.registry.GetRoom(roomID); !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err := c.state.Set(ctx, roomLockKey(uuid), roomID, roomStateTTL); err != nil {
		return err
	}
	c.bus.Publish("voice/active_room", map[string]any{"uuid": uuid, "room_id": roomID})
	return nil
}

// UpdateLastRoom records where the speaker was last heard.
func (c *ConversationRouter) UpdateLastRoom(ctx context.Context, uuid, roomID string) {
	now := c.nowFn()
	if err := c.state.Set(ctx, lastRoomKey(uuid), roomID, roomStateTTL); err != nil {
		slog.Warn("room state write failed", "uuid", uuid, "error", err)
	}
	if err := c.state.Set(ctx, lastSeenKey(uuid), fmt.Sprintf("%f", now), roomStateTTL); err != nil {
		slog.Warn("room state write failed", "uuid", uuid, "error", err)
	}
	if err := c.state.Set(ctx, recentRoomKey, roomID, roomStateTTL); err != nil {
		slog.Warn("room state write failed", "key", recentRoomKey, "error", err)
	}
	c.bus.Publish("voice/active_room", map[string]any{"uuid": uuid, "room_id": roomID})
}
