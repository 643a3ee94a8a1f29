package voice

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"halcyon/internal/eventbus"
)

// FrameSize is one 20ms frame at 16kHz, 16-bit, mono.
const FrameSize = 640

// streamStateInterval throttles the stt stream_state telemetry.
const streamStateInterval = 1.0

// STTSink receives the gated audio stream of the active conversation.
type STTSink interface {
	PushAudio(micID string, frame []byte) error
}

// WakeListener receives frames from mics without an active session so
// the wakeword detector keeps hearing.
type WakeListener func(micID string, frame []byte)

// ActiveSession tracks one mic's live conversation.
type ActiveSession struct {
	UUID      string
	TempID    string
	StartTime float64
}

// InputMux enforces the single-stream invariant: only the mic with an
// active session streams to STT.
type InputMux struct {
	registry *Registry
	bus      eventbus.Publisher
	stt      STTSink
	wake     WakeListener

	mu           sync.Mutex
	sessions     map[string]*ActiveSession
	lastStatePub map[string]float64

	nowFn func() float64
}

// NewInputMux creates a mux. stt and wake may be nil.
func NewInputMux(registry *Registry, bus eventbus.Publisher, stt STTSink, wake WakeListener) *InputMux {
	return &InputMux{
		registry:     registry,
		bus:          bus,
		stt:          stt,
		wake:         wake,
		sessions:     make(map[string]*ActiveSession),
		lastStatePub: make(map[string]float64),
		nowFn:        func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// OnWake opens a session for the winning mic of a wake event.
func (m *InputMux) OnWake(ev WakeEvent) {
	roomID, ok := m.registry.RoomForMic(ev.MicID)
	if !ok {
		slog.Warn("wake from unregistered mic", "mic_id", ev.MicID)
		m.bus.Publish("voice/error", map[string]any{
			"code": "unknown_mic", "message": "wake from unregistered mic", "room_id": "",
		})
		return
	}

	now := m.nowFn()
	tempID := fmt.Sprintf("mic:%s:%d", ev.MicID, int64(now))

	m.mu.Lock()
	m.sessions[ev.MicID] = &ActiveSession{TempID: tempID, StartTime: now}
	m.mu.Unlock()

	m.bus.Publish("voice/stream_state", map[string]any{
		"mic_id": ev.MicID, "state": "awake", "temp_id": tempID, "room_id": roomID,
	})
}

// Push routes one audio frame. Frames of the wrong size are dropped
// silently; frames from inactive mics only reach the wakeword listener.
func (m *InputMux) Push(micID string, frame []byte) {
	if len(frame) != FrameSize {
		return
	}

	m.mu.Lock()
	sess, active := m.sessions[micID]
	var tempID, uuid string
	if active {
		tempID, uuid = sess.TempID, sess.UUID
	}
	now := m.nowFn()
	publishState := false
	if active && now-m.lastStatePub[micID] >= streamStateInterval {
		m.lastStatePub[micID] = now
		publishState = true
	}
	m.mu.Unlock()

	if !active {
		if m.wake != nil {
			m.wake(micID, frame)
		}
		return
	}

	if m.stt != nil {
		if err := m.stt.PushAudio(micID, frame); err != nil {
			slog.Warn("stt push failed", "mic_id", micID, "error", err)
		}
	}

	if publishState {
		m.bus.Publish("voice/stream_state", map[string]any{
			"mic_id": micID, "state": "stt", "temp_id": tempID, "uuid": uuid,
		})
	}
}

// ReleaseSession closes the mic's session.
func (m *InputMux) ReleaseSession(micID string) {
	m.mu.Lock()
	_, ok := m.sessions[micID]
	delete(m.sessions, micID)
	delete(m.lastStatePub, micID)
	m.mu.Unlock()

	if ok {
		m.bus.Publish("voice/stream_state", map[string]any{
			"mic_id": micID, "state": "idle",
		})
	}
}

// SetUUIDForSession attaches the resolved speaker to the mic's session.
func (m *InputMux) SetUUIDForSession(micID, uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[micID]; ok {
		sess.UUID = uuid
	}
}

// TempIDForMic returns the session's temp-ID.
func (m *InputMux) TempIDForMic(micID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[micID]
	if !ok {
		return "", false
	}
	return sess.TempID, true
}

// ActiveMicForUUID finds the mic currently serving a speaker.
func (m *InputMux) ActiveMicForUUID(uuid string) (string, bool) {
	if uuid == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for micID, sess := range m.sessions {
		if sess.UUID == uuid {
			return micID, true
		}
	}
	return "", false
}
