package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"halcyon/internal/eventbus"
)

// ErrNoCandidates is returned when no source yields anything usable.
var ErrNoCandidates = errors.New("no media candidates available")

// HistorySource supplies a speaker's watch history. Guests have none.
type HistorySource interface {
	UserHistory(ctx context.Context, uuid, mediaType string, limit int) ([]HistoryItem, error)
	ContinueWatching(ctx context.Context, uuid string, limit int) ([]Candidate, error)
}

// DiscoverySource supplies trending and related candidates.
type DiscoverySource interface {
	Trending(ctx context.Context, mediaType string) ([]Candidate, error)
	Recommendations(ctx context.Context, tmdbID int, mediaType string) ([]Candidate, error)
}

const (
	historyLimit     = 60
	continueLimit    = 10
	relatedSeeds     = 10
	relatedPerSeed   = 5
	noveltyBonus     = 0.1
	noveltyThreshold = 10.0
	continueBonus    = 0.2
)

// Recommender fuses candidate sources and ranks them against the
// speaker's taste profile.
type Recommender struct {
	history   HistorySource
	discovery DiscoverySource
	bus       eventbus.Publisher
}

// NewRecommender creates a Recommender. history may be nil when no Plex
// server is configured; discovery is required.
func NewRecommender(history HistorySource, discovery DiscoverySource, bus eventbus.Publisher) (*Recommender, error) {
	if discovery == nil {
		return nil, errors.New("discovery source is required")
	}
	if bus == nil {
		return nil, errors.New("telemetry publisher is required")
	}
	return &Recommender{history: history, discovery: discovery, bus: bus}, nil
}

// RecommendForUser returns the top-k ranked candidates for a speaker.
// uuid may be empty for guests, who receive unpersonalized trending picks.
func (r *Recommender) RecommendForUser(ctx context.Context, uuid string, k int) ([]Candidate, error) {
	if k <= 0 {
		k = 3
	}

	history := r.gatherHistory(ctx, uuid)
	profile := BuildProfile(history)

	watched := make(map[int]bool, len(history))
	for _, h := range history {
		if h.TMDBID != 0 {
			watched[h.TMDBID] = true
		}
	}

	pool := r.gatherCandidates(ctx, uuid, history)
	if len(pool) == 0 {
		return nil, ErrNoCandidates
	}

	seen := make(map[int]bool, len(pool))
	ranked := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if c.TMDBID == 0 || watched[c.TMDBID] || seen[c.TMDBID] {
			continue
		}
		seen[c.TMDBID] = true

		s := profile.ScoreCandidate(c)
		if c.Popularity < noveltyThreshold {
			s += noveltyBonus
		}
		if c.Source == SourceContinue {
			s += continueBonus
		}
		if s > 1 {
			s = 1
		}
		c.Score = s
		c.Personalized = len(profile) > 0
		c.Reason = r.reasonFor(profile, c)
		ranked = append(ranked, c)
	}
	if len(ranked) == 0 {
		return nil, ErrNoCandidates
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Popularity > ranked[j].Popularity
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	r.bus.Publish("media/recommendation", map[string]any{
		"uuid":      uuid,
		"n_options": len(ranked),
		"sources":   sourcesOf(ranked),
	})
	return ranked, nil
}

func (r *Recommender) gatherHistory(ctx context.Context, uuid string) []HistoryItem {
	if uuid == "" || r.history == nil {
		return nil
	}
	var out []HistoryItem
	for _, mt := range []string{"movie", "tv"} {
		items, err := r.history.UserHistory(ctx, uuid, mt, historyLimit)
		if err != nil {
			slog.Warn("history fetch failed", "uuid", uuid, "type", mt, "error", err)
			continue
		}
		out = append(out, items...)
	}
	return out
}

func (r *Recommender) gatherCandidates(ctx context.Context, uuid string, history []HistoryItem) []Candidate {
	var pool []Candidate

	for _, mt := range []string{"movie", "tv"} {
		items, err := r.discovery.Trending(ctx, mt)
		if err != nil {
			slog.Warn("trending fetch failed", "type", mt, "error", err)
			continue
		}
		pool = append(pool, items...)
	}

	if uuid != "" && r.history != nil {
		items, err := r.history.ContinueWatching(ctx, uuid, continueLimit)
		if err != nil {
			slog.Warn("continue-watching fetch failed", "uuid", uuid, "error", err)
		} else {
			pool = append(pool, items...)
		}
	}

	seeds := 0
	for _, h := range history {
		if seeds >= relatedSeeds {
			break
		}
		if h.TMDBID == 0 {
			continue
		}
		seeds++
		items, err := r.discovery.Recommendations(ctx, h.TMDBID, h.Type)
		if err != nil {
			slog.Warn("related fetch failed", "seed", h.TMDBID, "error", err)
			continue
		}
		if len(items) > relatedPerSeed {
			items = items[:relatedPerSeed]
		}
		pool = append(pool, items...)
	}

	return pool
}

func (r *Recommender) reasonFor(profile Profile, c Candidate) string {
	reasons := profile.TopReasons(c, 2)
	if len(reasons) == 0 {
		if c.Source == SourceContinue {
			return "you started watching it"
		}
		return "a popular pick right now"
	}
	parts := make([]string, 0, len(reasons))
	for _, f := range reasons {
		parts = append(parts, humanizeFeature(f))
	}
	return "you tend to watch " + strings.Join(parts, " and ")
}

func humanizeFeature(f string) string {
	kind, value, _ := strings.Cut(f, ":")
	switch kind {
	case "genre":
		return strings.ToLower(value)
	case "network":
		return value
	case "pace":
		switch value {
		case "short":
			return "short episodes"
		case "medium":
			return "half-hour fare"
		case "feature":
			return "feature-length picks"
		default:
			return "long-form epics"
		}
	case "year":
		switch value {
		case "classic":
			return "classics"
		case "mid":
			return "2000s titles"
		case "recent":
			return "2010s titles"
		default:
			return "new releases"
		}
	}
	return value
}

func sourcesOf(options []Candidate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range options {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, c.Source)
		}
	}
	return out
}

// FormatSpoken renders the options in the active persona's register.
func (r *Recommender) FormatSpoken(options []Candidate, persona string) string {
	if len(options) == 0 {
		return "I have nothing to offer right now."
	}

	if strings.EqualFold(persona, "SCARLET") {
		var b strings.Builder
		b.WriteString("Options:")
		for i, c := range options {
			fmt.Fprintf(&b, " %d) %s.", i+1, c.Title)
		}
		b.WriteString(" Choose one.")
		return b.String()
	}

	var b strings.Builder
	if options[0].Personalized {
		b.WriteString("I found a few things you might enjoy.")
	} else {
		b.WriteString("Here are three popular options worth a look.")
	}
	for i, c := range options {
		fmt.Fprintf(&b, " %d) %s", i+1, c.Title)
		if c.Reason != "" {
			fmt.Fprintf(&b, ", because %s", c.Reason)
		}
		b.WriteString(".")
	}
	b.WriteString(" Which would you like?")
	return b.String()
}
