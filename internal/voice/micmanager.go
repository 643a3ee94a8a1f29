package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"halcyon/internal/eventbus"
)

// DefaultHeartbeatTimeout marks a mic dead after this many seconds of
// silence.
const DefaultHeartbeatTimeout = 8.0

// MicStatus is a snapshot of one mic's health.
type MicStatus struct {
	MicID         string
	RoomID        string
	RMS           float64
	VAD           bool
	LastHeartbeat float64
	Alive         bool
}

// MicManager tracks mic liveness from heartbeats.
type MicManager struct {
	bus     eventbus.Publisher
	timeout float64

	mu   sync.Mutex
	mics map[string]*MicStatus

	nowFn func() float64
}

// NewMicManager creates a manager. timeoutSec <= 0 uses the default.
func NewMicManager(bus eventbus.Publisher, timeoutSec float64) *MicManager {
	if timeoutSec <= 0 {
		timeoutSec = DefaultHeartbeatTimeout
	}
	return &MicManager{
		bus:     bus,
		timeout: timeoutSec,
		mics:    make(map[string]*MicStatus),
		nowFn:   func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Register adds a mic in the alive state.
func (m *MicManager) Register(micID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mics[micID] = &MicStatus{
		MicID:         micID,
		RoomID:        roomID,
		LastHeartbeat: m.nowFn(),
		Alive:         true,
	}
}

// Heartbeat records one health report. RMS is clamped to [0,1].
func (m *MicManager) Heartbeat(micID string, rms float64, vad bool) {
	if rms < 0 {
		rms = 0
	}
	if rms > 1 {
		rms = 1
	}

	m.mu.Lock()
	status, ok := m.mics[micID]
	if !ok {
		m.mu.Unlock()
		slog.Warn("heartbeat from unregistered mic", "mic_id", micID)
		return
	}
	revived := !status.Alive
	status.RMS = rms
	status.VAD = vad
	status.LastHeartbeat = m.nowFn()
	status.Alive = true
	roomID := status.RoomID
	m.mu.Unlock()

	m.bus.Publish("voice/mic/heartbeat", map[string]any{
		"mic_id": micID, "room_id": roomID, "rms": rms, "vad": vad, "alive": true,
	})
	if revived {
		slog.Info("mic revived", "mic_id", micID, "room_id", roomID)
	}
}

// CheckLiveness marks silent mics dead and returns their ids.
func (m *MicManager) CheckLiveness() []string {
	now := m.nowFn()

	m.mu.Lock()
	var died []*MicStatus
	for _, status := range m.mics {
		if status.Alive && now-status.LastHeartbeat > m.timeout {
			status.Alive = false
			died = append(died, status)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(died))
	for _, status := range died {
		ids = append(ids, status.MicID)
		slog.Warn("mic went silent", "mic_id", status.MicID, "room_id", status.RoomID)
		m.bus.Publish("voice/mic/heartbeat", map[string]any{
			"mic_id": status.MicID, "room_id": status.RoomID,
			"rms": status.RMS, "vad": false, "alive": false,
		})
	}
	return ids
}

// BestMicForRoom returns the loudest alive mic in a room.
func (m *MicManager) BestMicForRoom(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := ""
	bestRMS := -1.0
	for _, status := range m.mics {
		if !status.Alive || status.RoomID != roomID {
			continue
		}
		if status.RMS > bestRMS {
			best = status.MicID
			bestRMS = status.RMS
		}
	}
	return best, best != ""
}

// Status returns a snapshot of one mic.
func (m *MicManager) Status(micID string) (MicStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.mics[micID]
	if !ok {
		return MicStatus{}, false
	}
	return *status, true
}

// Run checks liveness on an interval until the context is canceled.
func (m *MicManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckLiveness()
		}
	}
}
