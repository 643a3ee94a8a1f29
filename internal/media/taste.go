package media

// Profile is a normalized distribution over taste features, built from
// watch history.
type Profile map[string]float64

// maxHistoryItems bounds how far back the profile looks.
const maxHistoryItems = 120

// BuildProfile derives a taste profile from watch history. Only the most
// recent items contribute. An empty history yields an empty profile.
func BuildProfile(history []HistoryItem) Profile {
	if len(history) > maxHistoryItems {
		history = history[len(history)-maxHistoryItems:]
	}

	counts := make(map[string]float64)
	var total float64
	for _, h := range history {
		for _, fw := range historyFeatures(h) {
			counts[fw.feature] += fw.weight
			total += fw.weight
		}
	}
	if total == 0 {
		return Profile{}
	}

	profile := make(Profile, len(counts))
	for f, w := range counts {
		profile[f] = w / total
	}
	return profile
}

// ScoreCandidate sums the profile weights of the features the candidate
// exhibits, clamped to [0,1]. With an empty profile every candidate gets a
// flat prior: 0.5 when it has features, 0.3 otherwise.
func (p Profile) ScoreCandidate(c Candidate) float64 {
	features := candidateFeatures(c)
	if len(p) == 0 {
		if len(features) > 0 {
			return 0.5
		}
		return 0.3
	}

	var s float64
	for _, f := range features {
		s += p[f]
	}
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// TopReasons explains a candidate's score with its strongest matching
// features, at most n.
func (p Profile) TopReasons(c Candidate, n int) []string {
	type match struct {
		feature string
		weight  float64
	}
	var matches []match
	for _, f := range candidateFeatures(c) {
		if w := p[f]; w > 0 {
			matches = append(matches, match{f, w})
		}
	}
	// Insertion sort by weight descending; the list is tiny.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].weight > matches[j-1].weight; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.feature)
	}
	return out
}
