// Package orchestrator coordinates one conversation turn: identity, trust,
// persona selection, intent dispatch, response rendering, and telemetry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"halcyon/internal/eventbus"
	"halcyon/internal/intent"
	"halcyon/internal/persona"
	"halcyon/internal/session"
	"halcyon/internal/storage"
	"halcyon/internal/telemetry"
	"halcyon/internal/trust"
	"halcyon/internal/voice"
)

// ErrEmptyInput is returned when the utterance is whitespace-only.
var ErrEmptyInput = errors.New("user text must be non-empty")

// IdentityResolver maps a transient speaker id to a stable identity.
type IdentityResolver interface {
	Resolve(tempID string, voiceProb float64) (string, trust.Role)
}

// Synthesizer renders spoken text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, personaLabel, text string) ([]byte, error)
}

// Archiver persists completed turns for audit.
type Archiver interface {
	SaveTurn(ctx context.Context, rec storage.TurnRecord) error
}

// Deps are the orchestrator's collaborators. Resolver, Sessions, Machine,
// Agents, Dispatcher, and Bus are required; the voice trio, Archive, and
// Tracer are optional.
type Deps struct {
	Resolver   IdentityResolver
	Sessions   *session.Store
	Machine    *persona.Machine
	Halston    persona.Agent
	Scarlet    persona.Agent
	Dispatcher *intent.Dispatcher
	Bus        eventbus.Publisher

	Conversations *voice.ConversationRouter
	Output        *voice.OutputRouter
	TTS           Synthesizer

	Archive Archiver
	Tracer  *telemetry.Provider
}

// Orchestrator is the primary request coordinator. Safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	tracer *telemetry.Provider

	nowFn func() float64
}

// New validates the dependencies and builds an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Resolver == nil || deps.Sessions == nil || deps.Machine == nil ||
		deps.Halston == nil || deps.Scarlet == nil || deps.Dispatcher == nil || deps.Bus == nil {
		return nil, fmt.Errorf("orchestrator missing required dependency")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.NoopProvider()
	}
	return &Orchestrator{
		deps:   deps,
		tracer: tracer,
		nowFn:  func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}, nil
}

// Process handles one utterance and returns the response text and the
// persona label that produced it.
func (o *Orchestrator) Process(ctx context.Context, userText, speakerTempID, roomHint string) (string, string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", "", ErrEmptyInput
	}

	ctx, span := o.tracer.StartTurnSpan(ctx, speakerTempID)

	uuid, roleHint := o.deps.Resolver.Resolve(speakerTempID, 1.0)
	st, err := o.deps.Sessions.Load(ctx, uuid, speakerTempID)
	if err != nil {
		o.tracer.EndTurnSpan(span, uuid, "", "", "", 0, false, err)
		return "", "", fmt.Errorf("load session: %w", err)
	}
	if st.SpeakerUUID == "" {
		st.SpeakerUUID = uuid
	}

	inputs := trust.Inputs{
		VoiceMatch:   st.VoiceConfidence,
		FaceMatch:    st.FaceConfidence,
		PriorScore:   st.LastTrust,
		ContextMode:  trust.ContextMode(st.ContextMode),
		Reassurance:  st.Reassurance,
		Threat:       st.Threat,
		LastUpdateTS: st.LastSeenTS,
		NowTS:        o.nowFn(),
	}
	decision := trust.Score(inputs, roleHint)
	active := o.selectPersona(st, decision)

	cls := intent.Classify(userText, decision.Role)
	var result *intent.Result
	if cls.Intent != "" {
		r := o.dispatchSafe(ctx, cls, decision, st, speakerTempID, active)
		result = &r
	}

	response := o.render(active, userText, cls, result)

	success := true
	if result != nil {
		success = result.OK
	}

	st.LastTrust = decision.Score
	st.LastPersona = string(active)
	st.LastIntent = cls.Intent
	st.LastResponse = response
	st.ConversationTurn++
	if err := o.deps.Sessions.Save(ctx, uuid, speakerTempID, st); err != nil {
		slog.Warn("session save failed", "speaker_uuid", uuid, "error", err)
	}

	o.publishTurn(st, decision, cls, success, active, userText)
	roomID := o.routeSpeech(ctx, active, uuid, speakerTempID, roomHint, response)
	o.archiveTurn(ctx, st, decision, cls, success, active, userText, response, speakerTempID, roomID)

	o.tracer.EndTurnSpan(span, uuid, string(active), cls.Intent, string(decision.Role), decision.Score, success, nil)
	return response, active.Label(), nil
}

// selectPersona feeds the trust bias into the state machine as synthetic
// evidence and publishes the active persona.
func (o *Orchestrator) selectPersona(st *session.State, d trust.Decision) persona.State {
	state := o.deps.Machine.Current()
	source := "state_machine"

	switch d.PersonaBias {
	case trust.BiasScarlet:
		severity := math.Min(1, 0.4+(100-d.Score)/100)
		state = o.deps.Machine.RegisterThreat(persona.ThreatSignal{
			Severity:    severity,
			Source:      "trust_bias",
			Description: "Trust bias escalation",
		})
		source = "trust_bias"
	case trust.BiasHalston:
		confidence := math.Min(1, 0.4+d.Score/150)
		state = o.deps.Machine.RegisterReassurance(persona.ReassuranceSignal{
			Confidence: confidence,
			Source:     "trust_bias",
		})
		source = "trust_bias"
	}

	// A SCARLET carry-over with neither bias nor sensitive access gets a
	// calming nudge so the household persona can recover.
	if !d.AllowSensitive && state == persona.Scarlet && d.PersonaBias != trust.BiasScarlet {
		state = o.deps.Machine.RegisterReassurance(persona.ReassuranceSignal{
			Confidence: 0.6,
			Source:     "sensitivity_guard",
		})
		source = "sensitivity_guard"
	}

	o.deps.Bus.Publish("orch/active_persona", map[string]any{
		"persona":           string(state),
		"source":            source,
		"conversation_turn": st.ConversationTurn,
		"speaker_uuid":      st.SpeakerUUID,
	})
	return state
}

// dispatchSafe runs the handler inside a recover boundary; a panicking
// handler becomes a failed result instead of taking the turn down.
func (o *Orchestrator) dispatchSafe(ctx context.Context, cls intent.Classification, d trust.Decision, st *session.State, tempID string, active persona.State) (res intent.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("intent handler panic", "intent", cls.Intent, "panic", r)
			res = intent.Result{OK: false, Spoken: "I encountered an internal error handling that request."}
		}
	}()

	ic := intent.Context{
		Role:           d.Role,
		AllowSensitive: d.AllowSensitive,
		ContextMode:    trust.ContextMode(st.ContextMode),
		SpeakerUUID:    st.SpeakerUUID,
		SessionID:      tempID,
		Persona:        string(active),
	}
	return o.deps.Dispatcher.Dispatch(ctx, cls.Intent, cls.Slots, ic)
}

func (o *Orchestrator) agentFor(state persona.State) persona.Agent {
	if state == persona.Scarlet {
		return o.deps.Scarlet
	}
	return o.deps.Halston
}

func (o *Orchestrator) render(active persona.State, userText string, cls intent.Classification, result *intent.Result) string {
	agent := o.agentFor(active)
	meta := map[string]any{
		"slots":             cls.Slots,
		"intent_confidence": cls.Confidence,
	}

	if result == nil {
		return agent.GenerateResponse(userText, "", meta)
	}
	if result.OK {
		lead := agent.GenerateResponse(userText, cls.Intent, meta)
		return strings.TrimSpace(lead + " " + strings.TrimSpace(result.Spoken))
	}
	reason := result.Spoken
	if reason == "" {
		reason = "The request could not be completed."
	}
	return agent.BuildDeniedResponse(reason)
}

func (o *Orchestrator) publishTurn(st *session.State, d trust.Decision, cls intent.Classification, success bool, active persona.State, userText string) {
	o.deps.Bus.Publish("orch/trust", map[string]any{
		"score":           math.Round(d.Score*100) / 100,
		"role":            string(d.Role),
		"allow_sensitive": d.AllowSensitive,
		"persona_bias":    string(d.PersonaBias),
		"speaker_uuid":    st.SpeakerUUID,
	})

	var successField any
	if cls.Intent != "" {
		successField = success
	}
	o.deps.Bus.Publish("orch/intent", map[string]any{
		"intent":       cls.Intent,
		"slots":        cls.Slots,
		"success":      successField,
		"persona":      string(active),
		"excerpt":      excerpt(userText, 160),
		"speaker_uuid": st.SpeakerUUID,
	})
}

// routeSpeech delivers the response as audio when the voice stack is wired.
// Best-effort: failures are logged, never propagated.
func (o *Orchestrator) routeSpeech(ctx context.Context, active persona.State, uuid, tempID, roomHint, response string) string {
	if o.deps.Conversations == nil || o.deps.Output == nil || o.deps.TTS == nil {
		return ""
	}

	roomID, err := o.deps.Conversations.SelectActiveRoom(ctx, uuid, tempID, roomHint)
	if err != nil {
		slog.Warn("room selection failed", "speaker_uuid", uuid, "error", err)
		return ""
	}

	if o.deps.Conversations.CanSpeakIn(roomID, active.Label()) {
		audio, err := o.deps.TTS.Synthesize(ctx, active.Label(), response)
		if err != nil {
			slog.Error("tts synthesis failed", "room_id", roomID, "error", err)
		} else {
			o.deps.Output.Route(ctx, active.Label(), uuid, roomID, audio)
		}
	}

	if uuid != "" {
		o.deps.Conversations.UpdateLastRoom(ctx, uuid, roomID)
	}
	return roomID
}

func (o *Orchestrator) archiveTurn(ctx context.Context, st *session.State, d trust.Decision, cls intent.Classification, success bool, active persona.State, userText, response, tempID, roomID string) {
	if o.deps.Archive == nil {
		return
	}
	rec := storage.TurnRecord{
		SpeakerUUID: st.SpeakerUUID,
		TempID:      tempID,
		Persona:     string(active),
		Intent:      cls.Intent,
		TrustScore:  d.Score,
		Role:        string(d.Role),
		ContextMode: st.ContextMode,
		Utterance:   excerpt(userText, 160),
		Response:    excerpt(response, 160),
		OK:          success,
		RoomID:      roomID,
	}
	if err := o.deps.Archive.SaveTurn(ctx, rec); err != nil {
		slog.Warn("turn archive failed", "speaker_uuid", st.SpeakerUUID, "error", err)
	}
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
