package voice

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"halcyon/internal/kv"
)

// recentRoomKey tracks the room of the most recent interaction household
// wide; the conversation router maintains it and collision tie-breaks
// read it.
const recentRoomKey = "halcyon:voice:recent_room"

const (
	debounceSeconds        = 0.5
	collisionWindowSeconds = 0.3
	confidenceMargin       = 0.1
)

// WakeEvent is one wakeword detection.
type WakeEvent struct {
	MicID      string
	Confidence float64
	Keyword    string
	Timestamp  float64
}

// WakeSubscriber receives the winning wake event of a collision group.
type WakeSubscriber func(WakeEvent)

// WakeBus deduplicates wake events across mics. Within any collision
// window, exactly one notification is delivered.
type WakeBus struct {
	registry *Registry
	state    kv.Store

	mu         sync.Mutex
	subs       []WakeSubscriber
	recent     []WakeEvent
	lastEmit   map[string]float64
	notifiedAt float64

	nowFn func() float64
}

// NewWakeBus creates a bus. state may be nil, disabling the last-room
// tie-break.
func NewWakeBus(registry *Registry, state kv.Store) *WakeBus {
	return &WakeBus{
		registry: registry,
		state:    state,
		lastEmit: make(map[string]float64),
		nowFn:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Subscribe registers a callback. Callbacks run on the emitting path;
// panics are swallowed.
func (b *WakeBus) Subscribe(sub WakeSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// EmitWake records a detection and delivers at most one notification per
// collision group. Returns true when this event was delivered.
func (b *WakeBus) EmitWake(ctx context.Context, micID string, confidence float64, keyword string) bool {
	now := b.nowFn()

	b.mu.Lock()

	if last, ok := b.lastEmit[micID]; ok && now-last < debounceSeconds {
		b.mu.Unlock()
		return false
	}
	b.lastEmit[micID] = now

	ev := WakeEvent{MicID: micID, Confidence: confidence, Keyword: keyword, Timestamp: now}
	b.recent = append(b.recent, ev)
	b.pruneLocked(now)

	// A notification already went out for this window: the group is
	// served. Resolve anyway so the loser is visible in the logs.
	if b.notifiedAt != 0 && now-b.notifiedAt < collisionWindowSeconds {
		winner := b.resolveLocked(ctx)
		b.mu.Unlock()
		slog.Debug("wake collision suppressed",
			"mic_id", micID, "confidence", confidence, "winner_mic", winner.MicID)
		return false
	}

	winner := b.resolveLocked(ctx)
	b.notifiedAt = now
	subs := make([]WakeSubscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		b.notify(sub, winner)
	}
	return winner.MicID == micID
}

func (b *WakeBus) notify(sub WakeSubscriber, ev WakeEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("wake subscriber panicked", "mic_id", ev.MicID, "panic", r)
		}
	}()
	sub(ev)
}

func (b *WakeBus) pruneLocked(now float64) {
	cutoff := now - collisionWindowSeconds
	keep := b.recent[:0]
	for _, ev := range b.recent {
		if ev.Timestamp >= cutoff {
			keep = append(keep, ev)
		}
	}
	b.recent = keep
}

// resolveLocked picks the winner among the events in the current window:
// highest confidence wins outright past the margin, otherwise the mic in
// the most recent interaction room, otherwise arrival order.
func (b *WakeBus) resolveLocked(ctx context.Context) WakeEvent {
	if len(b.recent) == 1 {
		return b.recent[0]
	}

	sorted := make([]WakeEvent, len(b.recent))
	copy(sorted, b.recent)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	if sorted[0].Confidence-sorted[1].Confidence > confidenceMargin {
		return sorted[0]
	}

	if room := b.recentRoom(ctx); room != "" {
		for _, ev := range b.recent {
			if evRoom, ok := b.registry.RoomForMic(ev.MicID); ok && evRoom == room {
				return ev
			}
		}
	}

	return b.recent[0]
}

func (b *WakeBus) recentRoom(ctx context.Context) string {
	if b.state == nil {
		return ""
	}
	room, ok, err := b.state.Get(ctx, recentRoomKey)
	if err != nil || !ok {
		return ""
	}
	return room
}
