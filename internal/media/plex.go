package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	plexCacheTTL = 300 * time.Second
	plexTimeout  = 8 * time.Second
)

// PlexClient reads watch history and on-deck items from a Plex server.
// Speakers map to Plex accounts through an explicit table; speakers
// without a mapping see no history.
type PlexClient struct {
	baseURL  string
	token    string
	accounts map[string]int
	http     *http.Client

	mu    sync.Mutex
	cache map[string]plexCacheEntry
}

type plexCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewPlexClient creates a client. accounts maps speaker UUIDs to Plex
// account ids. httpClient may be nil.
func NewPlexClient(baseURL, token string, accounts map[string]int, httpClient *http.Client) *PlexClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: plexTimeout}
	}
	return &PlexClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		accounts: accounts,
		http:     httpClient,
		cache:    make(map[string]plexCacheEntry),
	}
}

type plexContainer struct {
	MediaContainer struct {
		Metadata []plexItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexItem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Year     int    `json:"year"`
	Duration int    `json:"duration"`
	ViewedAt int64  `json:"viewedAt"`
	GUID     string `json:"guid"`
	Guids    []struct {
		ID string `json:"id"`
	} `json:"Guid"`
	Genres []struct {
		Tag string `json:"tag"`
	} `json:"Genre"`
}

// tmdbIDOf extracts a tmdb id from Plex guid annotations.
func (it plexItem) tmdbIDOf() int {
	for _, g := range it.Guids {
		if rest, ok := strings.CutPrefix(g.ID, "tmdb://"); ok {
			if id, err := strconv.Atoi(rest); err == nil {
				return id
			}
		}
	}
	if i := strings.Index(it.GUID, "tmdb://"); i >= 0 {
		rest := it.GUID[i+len("tmdb://"):]
		if j := strings.IndexAny(rest, "?/"); j >= 0 {
			rest = rest[:j]
		}
		if id, err := strconv.Atoi(rest); err == nil {
			return id
		}
	}
	return 0
}

func (it plexItem) mediaType() string {
	if it.Type == "show" || it.Type == "episode" || it.Type == "season" {
		return "tv"
	}
	return "movie"
}

func (it plexItem) genreTags() []string {
	var out []string
	for _, g := range it.Genres {
		out = append(out, g.Tag)
	}
	return out
}

func (c *PlexClient) get(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.cache[path]; ok && time.Now().Before(e.expiresAt) {
		out := e.payload
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%s%sX-Plex-Token=%s", c.baseURL, path, sep, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("plex request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex %s: status %d", path, resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("plex %s: read: %w", path, err)
	}

	c.mu.Lock()
	c.cache[path] = plexCacheEntry{payload: buf, expiresAt: time.Now().Add(plexCacheTTL)}
	c.mu.Unlock()
	return buf, nil
}

// UserHistory returns the speaker's watch history for one media type.
func (c *PlexClient) UserHistory(ctx context.Context, uuid, mediaType string, limit int) ([]HistoryItem, error) {
	accountID, ok := c.accounts[uuid]
	if !ok {
		return nil, nil
	}

	path := fmt.Sprintf("/status/sessions/history/all?accountID=%d&sort=viewedAt:desc", accountID)
	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var container plexContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("plex history decode: %w", err)
	}

	var out []HistoryItem
	for _, it := range container.MediaContainer.Metadata {
		if it.mediaType() != mediaType {
			continue
		}
		out = append(out, HistoryItem{
			TMDBID:      it.tmdbIDOf(),
			Type:        it.mediaType(),
			Title:       it.Title,
			Genres:      it.genreTags(),
			Runtime:     it.Duration / 60000,
			ReleaseYear: it.Year,
			WatchedAt:   float64(it.ViewedAt),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ContinueWatching returns the speaker's on-deck items as candidates.
func (c *PlexClient) ContinueWatching(ctx context.Context, uuid string, limit int) ([]Candidate, error) {
	if _, ok := c.accounts[uuid]; !ok {
		return nil, nil
	}

	data, err := c.get(ctx, "/library/onDeck")
	if err != nil {
		return nil, err
	}

	var container plexContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("plex ondeck decode: %w", err)
	}

	var out []Candidate
	for _, it := range container.MediaContainer.Metadata {
		out = append(out, Candidate{
			TMDBID:      it.tmdbIDOf(),
			Type:        it.mediaType(),
			Title:       it.Title,
			Genres:      it.genreTags(),
			Runtime:     it.Duration / 60000,
			ReleaseYear: it.Year,
			Source:      SourceContinue,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
