package voice

import (
	"testing"

	"halcyon/internal/eventbus"
)

func newTestMicManager() (*MicManager, *eventbus.Recorder, *float64) {
	bus := eventbus.NewRecorder()
	m := NewMicManager(bus, 8)
	now := 1000.0
	m.nowFn = func() float64 { return now }
	return m, bus, &now
}

func TestMicHeartbeat(t *testing.T) {
	m, bus, _ := newTestMicManager()
	m.Register("mic_lounge_1", "lounge")

	m.Heartbeat("mic_lounge_1", 0.4, true)

	status, ok := m.Status("mic_lounge_1")
	if !ok || status.RMS != 0.4 || !status.VAD || !status.Alive {
		t.Errorf("status = %+v, %v", status, ok)
	}

	events := bus.ByTopic("voice/mic/heartbeat")
	if len(events) != 1 || events[0].Payload["alive"] != true {
		t.Errorf("heartbeat events = %v", events)
	}
}

func TestMicHeartbeatClampsRMS(t *testing.T) {
	m, _, _ := newTestMicManager()
	m.Register("mic_lounge_1", "lounge")

	m.Heartbeat("mic_lounge_1", 1.7, false)
	if status, _ := m.Status("mic_lounge_1"); status.RMS != 1 {
		t.Errorf("RMS = %v, want 1", status.RMS)
	}

	m.Heartbeat("mic_lounge_1", -0.2, false)
	if status, _ := m.Status("mic_lounge_1"); status.RMS != 0 {
		t.Errorf("RMS = %v, want 0", status.RMS)
	}
}

func TestMicHeartbeatUnregistered(t *testing.T) {
	m, bus, _ := newTestMicManager()
	m.Heartbeat("mic_ghost", 0.5, false)
	if len(bus.Events()) != 0 {
		t.Error("unregistered mic published events")
	}
}

func TestMicLivenessTimeout(t *testing.T) {
	m, bus, now := newTestMicManager()
	m.Register("mic_lounge_1", "lounge")
	m.Register("mic_kitchen_1", "kitchen")

	m.Heartbeat("mic_lounge_1", 0.3, false)
	m.Heartbeat("mic_kitchen_1", 0.3, false)

	*now += 5
	m.Heartbeat("mic_kitchen_1", 0.3, false)

	*now += 4
	died := m.CheckLiveness()
	if len(died) != 1 || died[0] != "mic_lounge_1" {
		t.Fatalf("died = %v, want [mic_lounge_1]", died)
	}
	if status, _ := m.Status("mic_lounge_1"); status.Alive {
		t.Error("silent mic still alive")
	}
	if status, _ := m.Status("mic_kitchen_1"); !status.Alive {
		t.Error("fresh mic marked dead")
	}

	var deadEvents int
	for _, ev := range bus.ByTopic("voice/mic/heartbeat") {
		if ev.Payload["alive"] == false {
			deadEvents++
		}
	}
	if deadEvents != 1 {
		t.Errorf("dead heartbeat events = %d, want 1", deadEvents)
	}

	// Already dead mics are not re-reported.
	*now += 10
	if died := m.CheckLiveness(); len(died) != 0 {
		t.Errorf("second check re-reported: %v", died)
	}

	// A heartbeat revives the mic.
	m.Heartbeat("mic_lounge_1", 0.3, false)
	if status, _ := m.Status("mic_lounge_1"); !status.Alive {
		t.Error("heartbeat did not revive mic")
	}
}

func TestBestMicForRoom(t *testing.T) {
	m, _, now := newTestMicManager()
	m.Register("mic_a", "lounge")
	m.Register("mic_b", "lounge")
	m.Register("mic_c", "kitchen")

	m.Heartbeat("mic_a", 0.2, false)
	m.Heartbeat("mic_b", 0.8, false)
	m.Heartbeat("mic_c", 0.9, false)

	if best, ok := m.BestMicForRoom("lounge"); !ok || best != "mic_b" {
		t.Errorf("best = %q, %v", best, ok)
	}

	// A dead mic loses even with a higher RMS.
	*now += 20
	m.CheckLiveness()
	m.Heartbeat("mic_a", 0.2, false)
	if best, ok := m.BestMicForRoom("lounge"); !ok || best != "mic_a" {
		t.Errorf("best after liveness = %q, %v", best, ok)
	}

	if _, ok := m.BestMicForRoom("bedroom"); ok {
		t.Error("empty room returned a mic")
	}
}
