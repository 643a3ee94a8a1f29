package media

import (
	"math"
	"testing"
)

func TestBuildProfileEmptyHistory(t *testing.T) {
	p := BuildProfile(nil)
	if len(p) != 0 {
		t.Errorf("expected empty profile, got %v", p)
	}
}

func TestBuildProfileWeights(t *testing.T) {
	history := []HistoryItem{
		{Title: "A", Genres: []string{"Drama"}, Networks: []string{"HBO"}, Runtime: 55, ReleaseYear: 2021},
	}
	p := BuildProfile(history)

	// Weights: genre 1.0, network 0.5, pace 0.4, year 0.6 → total 2.5.
	if got := p["genre:Drama"]; math.Abs(got-1.0/2.5) > 1e-9 {
		t.Errorf("genre weight = %v", got)
	}
	if got := p["network:HBO"]; math.Abs(got-0.5/2.5) > 1e-9 {
		t.Errorf("network weight = %v", got)
	}
	if got := p["pace:medium"]; math.Abs(got-0.4/2.5) > 1e-9 {
		t.Errorf("pace weight = %v", got)
	}
	if got := p["year:new"]; math.Abs(got-0.6/2.5) > 1e-9 {
		t.Errorf("year weight = %v", got)
	}

	var total float64
	for _, w := range p {
		total += w
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("profile not normalized: sum=%v", total)
	}
}

func TestPaceAndYearBuckets(t *testing.T) {
	cases := []struct {
		runtime int
		want    string
	}{
		{20, "short"}, {45, "medium"}, {100, "feature"}, {150, "epic"},
	}
	for _, c := range cases {
		if got := paceBucket(c.runtime); got != c.want {
			t.Errorf("paceBucket(%d) = %s, want %s", c.runtime, got, c.want)
		}
	}

	years := []struct {
		year int
		want string
	}{
		{1985, "classic"}, {2005, "mid"}, {2015, "recent"}, {2023, "new"},
	}
	for _, c := range years {
		if got := yearBucket(c.year); got != c.want {
			t.Errorf("yearBucket(%d) = %s, want %s", c.year, got, c.want)
		}
	}
}

func TestScoreCandidateEmptyProfile(t *testing.T) {
	p := Profile{}

	withFeatures := Candidate{Genres: []string{"Drama"}}
	if got := p.ScoreCandidate(withFeatures); got != 0.5 {
		t.Errorf("expected flat 0.5 prior, got %v", got)
	}

	bare := Candidate{}
	if got := p.ScoreCandidate(bare); got != 0.3 {
		t.Errorf("expected 0.3 for featureless candidate, got %v", got)
	}
}

func TestScoreCandidateMatches(t *testing.T) {
	history := []HistoryItem{
		{Genres: []string{"Drama"}, Runtime: 55, ReleaseYear: 2021},
		{Genres: []string{"Drama"}, Runtime: 55, ReleaseYear: 2021},
	}
	p := BuildProfile(history)

	match := Candidate{Genres: []string{"Drama"}, Runtime: 50, ReleaseYear: 2022}
	miss := Candidate{Genres: []string{"Horror"}, Runtime: 150, ReleaseYear: 1980}

	if p.ScoreCandidate(match) <= p.ScoreCandidate(miss) {
		t.Errorf("matching candidate should outrank mismatched one: %v vs %v",
			p.ScoreCandidate(match), p.ScoreCandidate(miss))
	}
	if s := p.ScoreCandidate(match); s < 0 || s > 1 {
		t.Errorf("score %v out of [0,1]", s)
	}
}

func TestHistoryWindowBound(t *testing.T) {
	history := make([]HistoryItem, 0, 200)
	for range 150 {
		history = append(history, HistoryItem{Genres: []string{"Comedy"}})
	}
	// The last 120 include only Drama; the older Comedy must be displaced
	// by enough Drama entries to dominate.
	for range 120 {
		history = append(history, HistoryItem{Genres: []string{"Drama"}})
	}
	p := BuildProfile(history)
	if p["genre:Comedy"] != 0 {
		t.Errorf("items outside the 120-item window contributed: %v", p["genre:Comedy"])
	}
	if math.Abs(p["genre:Drama"]-1.0) > 1e-9 {
		t.Errorf("expected pure drama profile, got %v", p["genre:Drama"])
	}
}

func TestTopReasons(t *testing.T) {
	history := []HistoryItem{
		{Genres: []string{"Drama"}},
		{Genres: []string{"Drama"}},
		{Networks: []string{"HBO"}},
	}
	p := BuildProfile(history)

	c := Candidate{Genres: []string{"Drama"}, Networks: []string{"HBO"}}
	reasons := p.TopReasons(c, 2)
	if len(reasons) != 2 {
		t.Fatalf("expected 2 reasons, got %v", reasons)
	}
	if reasons[0] != "genre:Drama" {
		t.Errorf("strongest feature should lead: %v", reasons)
	}
}
