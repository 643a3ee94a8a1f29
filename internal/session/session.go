// Package session persists per-speaker conversation state in the shared
// key-value store so any coordinator instance can pick up a conversation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"halcyon/internal/kv"
	"halcyon/internal/trust"
)

// DefaultTTL is how long a session survives after its last write.
const DefaultTTL = time.Hour

// State is the JSON-serialized per-speaker session record.
type State struct {
	SpeakerUUID      string  `json:"speaker_uuid,omitempty"`
	LastTrust        float64 `json:"last_trust"`
	LastPersona      string  `json:"last_persona"`
	LastSeenTS       float64 `json:"last_seen_ts"`
	ConversationTurn int     `json:"conversation_turn"`
	ContextMode      string  `json:"context_mode"`
	VoiceConfidence  float64 `json:"voice_confidence"`
	FaceConfidence   float64 `json:"face_confidence"`
	Reassurance      float64 `json:"reassurance"`
	Threat           float64 `json:"threat"`
	LastIntent       string  `json:"last_intent,omitempty"`
	LastResponse     string  `json:"last_response,omitempty"`
}

// Store reads and writes session state. Safe for concurrent use; writers
// to the same session observe last-writer-wins.
type Store struct {
	kv  kv.Store
	ttl time.Duration

	nowFn func() float64
}

// NewStore creates a session store on the given KV backend.
func NewStore(backend kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:    backend,
		ttl:   ttl,
		nowFn: func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Key derives the session key. Known speakers key by UUID; anonymous
// speakers key by their temp-ID.
func Key(uuid, tempID string) string {
	if uuid != "" {
		return "halcyon:session:" + uuid
	}
	return "halcyon:session:guest:" + tempID
}

// Load fetches the session, returning a fresh state stamped now on miss.
func (s *Store) Load(ctx context.Context, uuid, tempID string) (*State, error) {
	raw, ok, err := s.kv.Get(ctx, Key(uuid, tempID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return s.fresh(uuid), nil
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

func (s *Store) fresh(uuid string) *State {
	return &State{
		SpeakerUUID: uuid,
		LastPersona: "halston",
		LastSeenTS:  s.nowFn(),
		ContextMode: string(trust.ModeHome),
	}
}

// Save writes the session, bumping last_seen_ts.
func (s *Store) Save(ctx context.Context, uuid, tempID string, st *State) error {
	st.LastSeenTS = s.nowFn()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, Key(uuid, tempID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// TouchContext sets the context mode via load-modify-save.
func (s *Store) TouchContext(ctx context.Context, uuid, tempID string, mode trust.ContextMode) error {
	st, err := s.Load(ctx, uuid, tempID)
	if err != nil {
		return err
	}
	st.ContextMode = string(mode)
	return s.Save(ctx, uuid, tempID, st)
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, uuid, tempID string) error {
	return s.kv.Delete(ctx, Key(uuid, tempID))
}
