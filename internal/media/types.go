// Package media provides the recommendation pipeline: TMDB, Plex and
// Overseerr clients, the taste-profile model, and the recommender that
// fuses trending, continue-watching and related candidates.
package media

import "fmt"

// Candidate source labels.
const (
	SourceTrending = "trending"
	SourceContinue = "continue"
	SourceRelated  = "related"
)

// Candidate is one recommendable title.
type Candidate struct {
	TMDBID       int      `json:"tmdb_id"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Overview     string   `json:"overview,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	Networks     []string `json:"networks,omitempty"`
	Runtime      int      `json:"runtime,omitempty"`
	ReleaseYear  int      `json:"release_year,omitempty"`
	Popularity   float64  `json:"popularity,omitempty"`
	Adult        bool     `json:"adult,omitempty"`
	Source       string   `json:"source"`
	Score        float64  `json:"score"`
	Reason       string   `json:"reason,omitempty"`
	Personalized bool     `json:"personalized"`
}

// HistoryItem is one previously watched title.
type HistoryItem struct {
	TMDBID      int      `json:"tmdb_id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Genres      []string `json:"genres,omitempty"`
	Networks    []string `json:"networks,omitempty"`
	Runtime     int      `json:"runtime,omitempty"`
	ReleaseYear int      `json:"release_year,omitempty"`
	WatchedAt   float64  `json:"watched_at,omitempty"`
}

// paceBucket maps a runtime in minutes to a viewing-pace feature.
func paceBucket(runtime int) string {
	switch {
	case runtime < 30:
		return "short"
	case runtime < 60:
		return "medium"
	case runtime < 110:
		return "feature"
	default:
		return "epic"
	}
}

// yearBucket maps a release year to an era feature.
func yearBucket(year int) string {
	switch {
	case year < 2000:
		return "classic"
	case year < 2010:
		return "mid"
	case year < 2020:
		return "recent"
	default:
		return "new"
	}
}

// candidateFeatures lists the taste features a candidate exhibits.
func candidateFeatures(c Candidate) []string {
	var out []string
	for _, g := range c.Genres {
		out = append(out, "genre:"+g)
	}
	for _, n := range c.Networks {
		out = append(out, "network:"+n)
	}
	if c.Runtime > 0 {
		out = append(out, "pace:"+paceBucket(c.Runtime))
	}
	if c.ReleaseYear > 0 {
		out = append(out, "year:"+yearBucket(c.ReleaseYear))
	}
	return out
}

// historyFeatures lists the weighted taste features of a watched item.
func historyFeatures(h HistoryItem) []featureWeight {
	var out []featureWeight
	for _, g := range h.Genres {
		out = append(out, featureWeight{"genre:" + g, 1.0})
	}
	for _, n := range h.Networks {
		out = append(out, featureWeight{"network:" + n, 0.5})
	}
	if h.Runtime > 0 {
		out = append(out, featureWeight{"pace:" + paceBucket(h.Runtime), 0.4})
	}
	if h.ReleaseYear > 0 {
		out = append(out, featureWeight{"year:" + yearBucket(h.ReleaseYear), 0.6})
	}
	return out
}

type featureWeight struct {
	feature string
	weight  float64
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s (%s, tmdb:%d, score:%.2f)", c.Title, c.Type, c.TMDBID, c.Score)
}
