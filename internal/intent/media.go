package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"halcyon/internal/eventbus"
	"halcyon/internal/kv"
	"halcyon/internal/media"
)

// offerTTL is how long a spoken list of offers remains pickable.
const offerTTL = 900 * time.Second

// Recommender generates and narrates media options.
type Recommender interface {
	RecommendForUser(ctx context.Context, uuid string, k int) ([]media.Candidate, error)
	FormatSpoken(options []media.Candidate, persona string) string
}

// Requester files requests against the media request service.
type Requester interface {
	Request(ctx context.Context, tmdbID int, mediaType string) (map[string]any, error)
	AddToList(ctx context.Context, tmdbID int, mediaType string) error
}

// MediaIntents serves the media intents. It keeps a short-lived per-speaker
// offer cache in the shared KV store so "add number two" works across
// coordinator instances.
type MediaIntents struct {
	rec       Recommender
	requester Requester
	cache     kv.Store
	bus       eventbus.Publisher
}

// NewMediaIntents wires the media intent handler. requester may be nil
// when no request service is configured.
func NewMediaIntents(rec Recommender, requester Requester, cache kv.Store, bus eventbus.Publisher) *MediaIntents {
	return &MediaIntents{rec: rec, requester: requester, cache: cache, bus: bus}
}

// offerKey scopes the offer cache to the speaker, falling back to the
// session and finally a shared guest slot.
func offerKey(ic Context) string {
	switch {
	case ic.SpeakerUUID != "":
		return "halcyon:media:last:" + ic.SpeakerUUID
	case ic.SessionID != "":
		return "halcyon:media:last:session:" + ic.SessionID
	default:
		return "halcyon:media:last:guest"
	}
}

// Recommend generates up to three offers and caches them for follow-ups.
func (m *MediaIntents) Recommend(ctx context.Context, _ map[string]any, ic Context) Result {
	opts, err := m.rec.RecommendForUser(ctx, ic.SpeakerUUID, 3)
	if err != nil {
		slog.Warn("recommendation failed", "uuid", ic.SpeakerUUID, "error", err)
		m.publishError(ic, "recommend_failed", err.Error())
		return Result{OK: false, Spoken: m.deny(ic, "I couldn't fetch recommendations right now."), Details: map[string]any{"error": err.Error()}}
	}

	data, err := json.Marshal(opts)
	if err == nil {
		if cerr := m.cache.Set(ctx, offerKey(ic), string(data), offerTTL); cerr != nil {
			slog.Warn("offer cache write failed", "error", cerr)
		}
	}

	return Result{
		OK:      true,
		Spoken:  m.rec.FormatSpoken(opts, ic.Persona),
		Details: map[string]any{"n_options": len(opts)},
	}
}

// AddRequest files a request for a previously offered pick.
func (m *MediaIntents) AddRequest(ctx context.Context, slots map[string]any, ic Context) Result {
	c, res, ok := m.pickOffer(ctx, slots, ic)
	if !ok {
		return res
	}

	if m.requester == nil {
		return Result{OK: false, Spoken: m.deny(ic, "Requests are not set up."), Details: map[string]any{"reason": "requester_disabled"}}
	}

	if _, err := m.requester.Request(ctx, c.TMDBID, c.Type); err != nil {
		slog.Error("media request failed", "tmdb_id", c.TMDBID, "error", err)
		m.publishError(ic, "request_failed", err.Error())
		m.bus.Publish("media/request", map[string]any{
			"uuid": ic.SpeakerUUID, "tmdb_id": c.TMDBID, "type": c.Type, "title": c.Title, "ok": false,
		})
		return Result{OK: false, Spoken: m.deny(ic, "The request service is not responding."), Details: map[string]any{"error": err.Error()}}
	}

	m.bus.Publish("media/request", map[string]any{
		"uuid": ic.SpeakerUUID, "tmdb_id": c.TMDBID, "type": c.Type, "title": c.Title, "ok": true,
	})

	spoken := fmt.Sprintf("I've requested '%s' for you. It should appear in your library soon.", c.Title)
	if strings.EqualFold(ic.Persona, "SCARLET") {
		spoken = "Request filed."
	}
	return Result{OK: true, Spoken: spoken, Details: map[string]any{"tmdb_id": c.TMDBID, "title": c.Title}}
}

// AddToList saves a previously offered pick to the speaker's list.
func (m *MediaIntents) AddToList(ctx context.Context, slots map[string]any, ic Context) Result {
	c, res, ok := m.pickOffer(ctx, slots, ic)
	if !ok {
		return res
	}

	if m.requester == nil {
		return Result{OK: false, Spoken: m.deny(ic, "Lists are not set up."), Details: map[string]any{"reason": "requester_disabled"}}
	}

	if err := m.requester.AddToList(ctx, c.TMDBID, c.Type); err != nil {
		slog.Error("watchlist add failed", "tmdb_id", c.TMDBID, "error", err)
		m.publishError(ic, "list_failed", err.Error())
		return Result{OK: false, Spoken: m.deny(ic, "I couldn't save that right now."), Details: map[string]any{"error": err.Error()}}
	}

	spoken := fmt.Sprintf("I've added '%s' to your list.", c.Title)
	if strings.EqualFold(ic.Persona, "SCARLET") {
		spoken = "Saved."
	}
	return Result{OK: true, Spoken: spoken, Details: map[string]any{"tmdb_id": c.TMDBID, "title": c.Title}}
}

// pickOffer resolves a pick slot against the cached offers, enforcing
// adult-content gating.
func (m *MediaIntents) pickOffer(ctx context.Context, slots map[string]any, ic Context) (media.Candidate, Result, bool) {
	raw, ok, err := m.cache.Get(ctx, offerKey(ic))
	if err != nil || !ok {
		if err != nil {
			slog.Warn("offer cache read failed", "error", err)
		}
		return media.Candidate{}, Result{
			OK:      false,
			Spoken:  m.deny(ic, "Ask me for recommendations first."),
			Details: map[string]any{"reason": "no_offers"},
		}, false
	}

	var offers []media.Candidate
	if err := json.Unmarshal([]byte(raw), &offers); err != nil || len(offers) == 0 {
		return media.Candidate{}, Result{
			OK:      false,
			Spoken:  m.deny(ic, "Ask me for recommendations first."),
			Details: map[string]any{"reason": "no_offers"},
		}, false
	}

	pick := resolvePick(slots)
	if pick < 1 || pick > len(offers) {
		return media.Candidate{}, Result{
			OK:      false,
			Spoken:  m.deny(ic, fmt.Sprintf("I only offered %d options.", len(offers))),
			Details: map[string]any{"reason": "pick_out_of_range", "pick": pick},
		}, false
	}

	c := offers[pick-1]
	if c.Adult && !ic.AllowSensitive {
		m.publishError(ic, "adult_blocked", c.Title)
		return media.Candidate{}, Result{
			OK:      false,
			Spoken:  m.deny(ic, "That title is not available."),
			Details: map[string]any{"reason": "adult_blocked"},
		}, false
	}
	return c, Result{}, true
}

func resolvePick(slots map[string]any) int {
	switch v := slots["pick"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, ok := map[string]int{"first": 1, "second": 2, "third": 3}[strings.ToLower(v)]; ok {
			return n
		}
	}
	return 1
}

func (m *MediaIntents) deny(ic Context, reason string) string {
	if strings.EqualFold(ic.Persona, "SCARLET") {
		return "Denied. " + reason
	}
	return reason
}

func (m *MediaIntents) publishError(ic Context, code, message string) {
	m.bus.Publish("media/error", map[string]any{
		"uuid":    ic.SpeakerUUID,
		"code":    code,
		"message": message,
	})
}
