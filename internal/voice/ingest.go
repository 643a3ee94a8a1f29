package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"halcyon/internal/eventbus"
)

var (
	errNonTextHello = errors.New("first frame must be a text hello")
	errBadHello     = errors.New("hello must carry a mic_id")
)

// ingestReadLimit bounds one frame: control JSON or a batch of audio.
const ingestReadLimit = 64 * 1024

// helloTimeout bounds how long a mic may stall before identifying itself.
const helloTimeout = 10 * time.Second

// IngestServer accepts satellite mic WebSocket connections. Each mic
// sends a hello, then interleaves binary audio frames with JSON control
// messages (heartbeats, wake detections, session release).
type IngestServer struct {
	registry *Registry
	mux      *InputMux
	wake     *WakeBus
	mics     *MicManager
	bus      eventbus.Publisher
}

// NewIngestServer wires the ingest endpoint.
func NewIngestServer(registry *Registry, mux *InputMux, wake *WakeBus, mics *MicManager, bus eventbus.Publisher) *IngestServer {
	return &IngestServer{registry: registry, mux: mux, wake: wake, mics: mics, bus: bus}
}

type helloMessage struct {
	Type  string `json:"type"`
	MicID string `json:"mic_id"`
}

type controlMessage struct {
	Type       string  `json:"type"`
	RMS        float64 `json:"rms"`
	VAD        bool    `json:"vad"`
	Confidence float64 `json:"confidence"`
	Keyword    string  `json:"keyword"`
}

// ServeHTTP implements http.Handler
func (s *IngestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("ingest accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(ingestReadLimit)

	ctx := r.Context()

	micID, err := s.awaitHello(ctx, conn)
	if err != nil {
		slog.Warn("ingest hello failed", "remote", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	roomID, ok := s.registry.RoomForMic(micID)
	if !ok {
		slog.Warn("ingest from unregistered mic", "mic_id", micID)
		s.bus.Publish("voice/error", map[string]any{
			"code": "unknown_mic", "message": "connection from unregistered mic", "room_id": "",
		})
		conn.Close(websocket.StatusPolicyViolation, "unknown mic")
		return
	}

	s.mics.Register(micID, roomID)
	slog.Info("mic connected", "mic_id", micID, "room_id", roomID)

	defer func() {
		s.mux.ReleaseSession(micID)
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("mic disconnected", "mic_id", micID)
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Warn("ingest read failed", "mic_id", micID, "error", err)
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			s.mux.Push(micID, data)
		case websocket.MessageText:
			s.handleControl(ctx, micID, data)
		}
	}
}

// awaitHello reads the identifying first frame.
func (s *IngestServer) awaitHello(ctx context.Context, conn *websocket.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return "", err
	}
	if msgType != websocket.MessageText {
		return "", errNonTextHello
	}

	var hello helloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		return "", err
	}
	if hello.Type != "hello" || hello.MicID == "" {
		return "", errBadHello
	}
	return hello.MicID, nil
}

func (s *IngestServer) handleControl(ctx context.Context, micID string, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("ingest control unparseable", "mic_id", micID, "error", err)
		return
	}

	switch msg.Type {
	case "heartbeat":
		s.mics.Heartbeat(micID, msg.RMS, msg.VAD)
	case "wake":
		s.wake.EmitWake(ctx, micID, msg.Confidence, msg.Keyword)
	case "release":
		s.mux.ReleaseSession(micID)
	default:
		slog.Warn("ingest control unknown type", "mic_id", micID, "type", msg.Type)
	}
}
