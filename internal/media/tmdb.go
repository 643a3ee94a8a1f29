package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// tmdbGenres maps TMDB genre ids to names. The ids are stable across the
// movie and TV catalogs.
var tmdbGenres = map[int]string{
	28: "Action", 12: "Adventure", 16: "Animation", 35: "Comedy",
	80: "Crime", 99: "Documentary", 18: "Drama", 10751: "Family",
	14: "Fantasy", 36: "History", 27: "Horror", 10402: "Music",
	9648: "Mystery", 10749: "Romance", 878: "Science Fiction",
	53: "Thriller", 10752: "War", 37: "Western",
	10759: "Action & Adventure", 10762: "Kids", 10763: "News",
	10764: "Reality", 10765: "Sci-Fi & Fantasy", 10766: "Soap",
	10767: "Talk", 10768: "War & Politics",
}

const (
	tmdbDefaultBaseURL = "https://api.themoviedb.org/3"
	tmdbCacheTTL       = 600 * time.Second
	tmdbTimeout        = 8 * time.Second
)

// TMDBClient fetches trending and related titles. Responses are cached
// in-process because trending lists change slowly.
type TMDBClient struct {
	apiKey  string
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	cache map[string]tmdbCacheEntry
}

type tmdbCacheEntry struct {
	candidates []Candidate
	expiresAt  time.Time
}

// NewTMDBClient creates a client. httpClient may be nil.
func NewTMDBClient(apiKey string, httpClient *http.Client) *TMDBClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: tmdbTimeout}
	}
	return &TMDBClient{
		apiKey:  apiKey,
		baseURL: tmdbDefaultBaseURL,
		http:    httpClient,
		cache:   make(map[string]tmdbCacheEntry),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *TMDBClient) SetBaseURL(u string) { c.baseURL = u }

type tmdbListResponse struct {
	Results []tmdbItem `json:"results"`
}

type tmdbItem struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	GenreIDs     []int   `json:"genre_ids"`
	Popularity   float64 `json:"popularity"`
	Adult        bool    `json:"adult"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	MediaType    string  `json:"media_type"`
}

func (it tmdbItem) toCandidate(mediaType, source string) Candidate {
	title := it.Title
	if title == "" {
		title = it.Name
	}
	if it.MediaType != "" {
		mediaType = it.MediaType
	}
	date := it.ReleaseDate
	if date == "" {
		date = it.FirstAirDate
	}
	year := 0
	if len(date) >= 4 {
		year, _ = strconv.Atoi(date[:4])
	}
	var genres []string
	for _, id := range it.GenreIDs {
		if name, ok := tmdbGenres[id]; ok {
			genres = append(genres, name)
		}
	}
	return Candidate{
		TMDBID:      it.ID,
		Type:        mediaType,
		Title:       title,
		Overview:    it.Overview,
		Genres:      genres,
		ReleaseYear: year,
		Popularity:  it.Popularity,
		Adult:       it.Adult,
		Source:      source,
	}
}

func (c *TMDBClient) fetchList(ctx context.Context, cacheKey, path, mediaType, source string) ([]Candidate, error) {
	c.mu.Lock()
	if e, ok := c.cache[cacheKey]; ok && time.Now().Before(e.expiresAt) {
		out := make([]Candidate, len(e.candidates))
		copy(out, e.candidates)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s%s?api_key=%s", c.baseURL, path, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tmdb request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmdb %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tmdb %s: status %d", path, resp.StatusCode)
	}

	var list tmdbListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("tmdb %s: decode: %w", path, err)
	}

	candidates := make([]Candidate, 0, len(list.Results))
	for _, it := range list.Results {
		candidates = append(candidates, it.toCandidate(mediaType, source))
	}

	c.mu.Lock()
	c.cache[cacheKey] = tmdbCacheEntry{candidates: candidates, expiresAt: time.Now().Add(tmdbCacheTTL)}
	c.mu.Unlock()

	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	return out, nil
}

// Trending returns this week's trending titles for mediaType (movie|tv).
func (c *TMDBClient) Trending(ctx context.Context, mediaType string) ([]Candidate, error) {
	path := fmt.Sprintf("/trending/%s/week", mediaType)
	return c.fetchList(ctx, "trending:"+mediaType, path, mediaType, SourceTrending)
}

// Recommendations returns titles related to a seed title.
func (c *TMDBClient) Recommendations(ctx context.Context, tmdbID int, mediaType string) ([]Candidate, error) {
	if mediaType != "movie" && mediaType != "tv" {
		mediaType = "movie"
	}
	path := fmt.Sprintf("/%s/%d/recommendations", mediaType, tmdbID)
	return c.fetchList(ctx, fmt.Sprintf("related:%s:%d", mediaType, tmdbID), path, mediaType, SourceRelated)
}
