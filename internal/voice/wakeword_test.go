package voice

import (
	"context"
	"sync"
	"testing"

	"halcyon/internal/kv"
)

type wakeCollector struct {
	mu     sync.Mutex
	events []WakeEvent
}

func (c *wakeCollector) collect(ev WakeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *wakeCollector) all() []WakeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WakeEvent, len(c.events))
	copy(out, c.events)
	return out
}

func newTestBus(t *testing.T, state kv.Store) (*WakeBus, *wakeCollector, *float64) {
	t.Helper()
	r := testRegistry(t, RegistryOptions{})
	b := NewWakeBus(r, state)
	now := 1000.0
	b.nowFn = func() float64 { return now }
	c := &wakeCollector{}
	b.Subscribe(c.collect)
	return b, c, &now
}

func TestWakeCollisionSingleNotification(t *testing.T) {
	b, c, now := newTestBus(t, nil)
	ctx := context.Background()

	b.EmitWake(ctx, "mic_lounge_1", 0.9, "halcyon")
	*now += 0.2
	b.EmitWake(ctx, "mic_kitchen_1", 0.6, "halcyon")

	events := c.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(events))
	}
	if events[0].MicID != "mic_lounge_1" {
		t.Errorf("winner = %s, want mic_lounge_1", events[0].MicID)
	}
}

func TestWakeDebounce(t *testing.T) {
	b, c, now := newTestBus(t, nil)
	ctx := context.Background()

	b.EmitWake(ctx, "mic_lounge_1", 0.9, "halcyon")
	*now += 0.4
	b.EmitWake(ctx, "mic_lounge_1", 0.9, "halcyon")

	if got := len(c.all()); got != 1 {
		t.Errorf("debounced emit should not notify, got %d notifications", got)
	}

	*now += 0.5
	b.EmitWake(ctx, "mic_lounge_1", 0.9, "halcyon")
	if got := len(c.all()); got != 2 {
		t.Errorf("expected second notification after debounce, got %d", got)
	}
}

func TestWakeSeparatedEventsBothNotify(t *testing.T) {
	b, c, now := newTestBus(t, nil)
	ctx := context.Background()

	b.EmitWake(ctx, "mic_lounge_1", 0.9, "halcyon")
	*now += 0.5
	b.EmitWake(ctx, "mic_kitchen_1", 0.9, "halcyon")

	if got := len(c.all()); got != 2 {
		t.Errorf("events outside the window should both notify, got %d", got)
	}
}

func TestWakeResolveConfidenceMargin(t *testing.T) {
	r := testRegistry(t, RegistryOptions{})
	b := NewWakeBus(r, nil)
	b.recent = []WakeEvent{
		{MicID: "mic_lounge_1", Confidence: 0.6, Timestamp: 1},
		{MicID: "mic_kitchen_1", Confidence: 0.9, Timestamp: 2},
	}
	if w := b.resolveLocked(context.Background()); w.MicID != "mic_kitchen_1" {
		t.Errorf("winner = %s, want mic_kitchen_1 on confidence", w.MicID)
	}
}

func TestWakeResolveTieBreakLastRoom(t *testing.T) {
	state := kv.NewMemoryStore()
	state.Set(context.Background(), recentRoomKey, "kitchen", 0)

	r := testRegistry(t, RegistryOptions{})
	b := NewWakeBus(r, state)
	b.recent = []WakeEvent{
		{MicID: "mic_lounge_1", Confidence: 0.80, Timestamp: 1},
		{MicID: "mic_kitchen_1", Confidence: 0.75, Timestamp: 2},
	}
	if w := b.resolveLocked(context.Background()); w.MicID != "mic_kitchen_1" {
		t.Errorf("winner = %s, want mic_kitchen_1 via last-room tie-break", w.MicID)
	}
}

func TestWakeResolveTieBreakArrivalOrder(t *testing.T) {
	r := testRegistry(t, RegistryOptions{})
	b := NewWakeBus(r, nil)
	b.recent = []WakeEvent{
		{MicID: "mic_lounge_1", Confidence: 0.80, Timestamp: 1},
		{MicID: "mic_kitchen_1", Confidence: 0.75, Timestamp: 2},
	}
	if w := b.resolveLocked(context.Background()); w.MicID != "mic_lounge_1" {
		t.Errorf("winner = %s, want first arrival", w.MicID)
	}
}

func TestWakeSubscriberPanicSwallowed(t *testing.T) {
	b, c, _ := newTestBus(t, nil)
	b.Subscribe(func(WakeEvent) { panic("boom") })

	b.EmitWake(context.Background(), "mic_lounge_1", 0.9, "halcyon")
	if got := len(c.all()); got != 1 {
		t.Errorf("panicking subscriber must not block delivery, got %d", got)
	}
}
