// Package control serves the administrative HTTP API: health, turn
// archive queries, identity management, and context mode changes.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"halcyon/internal/identity"
	"halcyon/internal/orchestrator"
	"halcyon/internal/session"
	"halcyon/internal/storage"
	"halcyon/internal/trust"
	"halcyon/internal/voice"
)

// Assistant processes one utterance end to end.
type Assistant interface {
	Process(ctx context.Context, userText, speakerTempID, roomHint string) (string, string, error)
}

// Handler handles control API requests
type Handler struct {
	archive  *storage.Archive
	resolver *identity.Resolver
	sessions *session.Store
	registry *voice.Registry
	mics     *voice.MicManager
	assist   Assistant
	mux      *http.ServeMux
}

// New creates a new control API handler. archive, registry, and mics may
// be nil when the corresponding subsystem is disabled.
func New(archive *storage.Archive, resolver *identity.Resolver, sessions *session.Store, registry *voice.Registry, mics *voice.MicManager) *Handler {
	h := &Handler{
		archive:  archive,
		resolver: resolver,
		sessions: sessions,
		registry: registry,
		mics:     mics,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("/control/health", h.handleHealth)
	h.mux.HandleFunc("/control/stats", h.handleStats)
	h.mux.HandleFunc("/control/turns", h.handleTurns)
	h.mux.HandleFunc("/control/identity", h.handleIdentity)
	h.mux.HandleFunc("/control/identity/", h.handleIdentityForget)
	h.mux.HandleFunc("/control/context", h.handleContext)
	h.mux.HandleFunc("/control/rooms", h.handleRooms)
	h.mux.HandleFunc("/assist", h.handleAssist)

	return h
}

// SetAssistant wires the utterance entry point. Without it /assist
// returns 503.
func (h *Handler) SetAssistant(a Assistant) {
	h.assist = a
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers for local dashboard access
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.mux.ServeHTTP(w, r)
}

// handleHealth handles GET /control/health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "0.1.0",
	})
}

// handleStats handles GET /control/stats
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.archive == nil {
		http.Error(w, "Turn archive is disabled", http.StatusNotFound)
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get("since_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			http.Error(w, "since_hours must be a positive integer", http.StatusBadRequest)
			return
		}
		t := time.Now().Add(-time.Duration(hours) * time.Hour)
		since = &t
	}

	stats, err := h.archive.GetStats(r.Context(), since)
	if err != nil {
		slog.Error("stats query failed", "error", err)
		http.Error(w, "Stats query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTurns handles GET /control/turns
func (h *Handler) handleTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.archive == nil {
		http.Error(w, "Turn archive is disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	opts := storage.ListTurnsOptions{
		SpeakerUUID: query.Get("speaker"),
		Persona:     query.Get("persona"),
		Limit:       50,
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "offset must not be negative", http.StatusBadRequest)
			return
		}
		opts.Offset = n
	}

	turns, err := h.archive.ListTurns(r.Context(), opts)
	if err != nil {
		slog.Error("turn query failed", "error", err)
		http.Error(w, "Turn query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TurnsResponse{Total: len(turns), Turns: turns})
}

// handleIdentity handles POST /control/identity
func (h *Handler) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req IdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TempID == "" {
		http.Error(w, "temp_id is required", http.StatusBadRequest)
		return
	}
	// Enrollment of a brand-new speaker: mint the stable identity here.
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	}

	role := trust.Role(req.Role)
	switch role {
	case trust.RoleOwner, trust.RoleHousehold, trust.RoleGuest:
	default:
		http.Error(w, "role must be owner, household, or guest", http.StatusBadRequest)
		return
	}

	if err := h.resolver.RegisterIdentity(req.TempID, req.UUID, role); err != nil {
		slog.Error("identity registration failed", "uuid", req.UUID, "error", err)
		http.Error(w, "Identity registration failed", http.StatusInternalServerError)
		return
	}

	slog.Info("identity registered", "uuid", req.UUID, "role", role)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "uuid": req.UUID})
}

// handleIdentityForget handles DELETE /control/identity/{uuid}
func (h *Handler) handleIdentityForget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uuid := strings.TrimPrefix(r.URL.Path, "/control/identity/")
	if uuid == "" || strings.Contains(uuid, "/") {
		http.Error(w, "Speaker UUID required", http.StatusBadRequest)
		return
	}

	removed, err := h.resolver.ForgetIdentity(uuid)
	if err != nil {
		slog.Error("identity removal failed", "uuid", uuid, "error", err)
		http.Error(w, "Identity removal failed", http.StatusInternalServerError)
		return
	}
	if removed == 0 {
		http.Error(w, "Identity not found", http.StatusNotFound)
		return
	}

	if err := h.sessions.Delete(r.Context(), uuid, ""); err != nil {
		slog.Warn("session cleanup after forget failed", "uuid", uuid, "error", err)
	}

	slog.Info("identity forgotten", "uuid", uuid, "aliases_removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"status": "forgotten", "uuid": uuid, "aliases_removed": removed})
}

// handleContext handles POST /control/context
func (h *Handler) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UUID == "" && req.TempID == "" {
		http.Error(w, "uuid or temp_id is required", http.StatusBadRequest)
		return
	}

	mode := trust.ContextMode(req.Mode)
	switch mode {
	case trust.ModeHome, trust.ModeAway, trust.ModeNight, trust.ModeMaintenance, trust.ModeIncident:
	default:
		http.Error(w, "mode must be home, away, night, maintenance, or incident", http.StatusBadRequest)
		return
	}

	if err := h.sessions.TouchContext(r.Context(), req.UUID, req.TempID, mode); err != nil {
		slog.Error("context update failed", "uuid", req.UUID, "error", err)
		http.Error(w, "Context update failed", http.StatusInternalServerError)
		return
	}

	slog.Info("context mode set", "uuid", req.UUID, "mode", mode)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "mode": string(mode)})
}

// handleRooms handles GET /control/rooms
func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.registry == nil {
		http.Error(w, "Room registry is disabled", http.StatusNotFound)
		return
	}

	rooms := h.registry.ListRooms()
	response := RoomsResponse{Rooms: make([]RoomInfo, 0, len(rooms))}
	for _, room := range rooms {
		info := RoomInfo{
			ID:          room.ID,
			PrivacyZone: h.registry.IsPrivacyZone(room.ID),
			DNDZone:     h.registry.IsDNDZone(room.ID),
			Mics:        make([]MicInfo, 0, len(room.Mics)),
		}
		for _, mic := range room.Mics {
			mi := MicInfo{ID: mic.ID}
			if h.mics != nil {
				if status, ok := h.mics.Status(mic.ID); ok {
					mi.Alive = status.Alive
					mi.RMS = status.RMS
				}
			}
			info.Mics = append(info.Mics, mi)
		}
		response.Rooms = append(response.Rooms, info)
	}
	response.Total = len(response.Rooms)

	writeJSON(w, http.StatusOK, response)
}

// handleAssist handles POST /assist
func (h *Handler) handleAssist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.assist == nil {
		http.Error(w, "Assistant not available", http.StatusServiceUnavailable)
		return
	}

	var req AssistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, persona, err := h.assist.Process(r.Context(), req.Text, req.SpeakerTempID, req.RoomHint)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyInput) {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		slog.Error("assist turn failed", "temp_id", req.SpeakerTempID, "error", err)
		http.Error(w, "Turn processing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AssistResponse{Response: response, Persona: persona})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// TurnsResponse represents a page of archived turns
type TurnsResponse struct {
	Total int                  `json:"total"`
	Turns []storage.TurnRecord `json:"turns"`
}

// IdentityRequest binds a temp-ID alias to a stable identity
type IdentityRequest struct {
	TempID string `json:"temp_id"`
	UUID   string `json:"uuid"`
	Role   string `json:"role"`
}

// AssistRequest is one transcribed utterance
type AssistRequest struct {
	Text          string `json:"text"`
	SpeakerTempID string `json:"speaker_temp_id"`
	RoomHint      string `json:"room_hint"`
}

// AssistResponse carries the rendered reply
type AssistResponse struct {
	Response string `json:"response"`
	Persona  string `json:"persona"`
}

// ContextRequest sets the context mode for a speaker's session
type ContextRequest struct {
	UUID   string `json:"uuid"`
	TempID string `json:"temp_id"`
	Mode   string `json:"mode"`
}

// RoomsResponse lists the configured rooms
type RoomsResponse struct {
	Total int        `json:"total"`
	Rooms []RoomInfo `json:"rooms"`
}

// RoomInfo is one room with its zone flags and mic health
type RoomInfo struct {
	ID          string    `json:"id"`
	PrivacyZone bool      `json:"privacy_zone"`
	DNDZone     bool      `json:"dnd_zone"`
	Mics        []MicInfo `json:"mics"`
}

// MicInfo is one mic's liveness snapshot
type MicInfo struct {
	ID    string  `json:"id"`
	Alive bool    `json:"alive"`
	RMS   float64 `json:"rms"`
}
