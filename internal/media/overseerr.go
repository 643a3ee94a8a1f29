package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const overseerrTimeout = 10 * time.Second

// OverseerrClient files media requests and watchlist additions.
type OverseerrClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewOverseerrClient creates a client. httpClient may be nil.
func NewOverseerrClient(baseURL, apiKey string, httpClient *http.Client) *OverseerrClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: overseerrTimeout}
	}
	return &OverseerrClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

func (c *OverseerrClient) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("overseerr marshal: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("overseerr request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overseerr %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("overseerr %s %s: status %d", method, path, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Some endpoints return an empty body on success.
		return map[string]any{}, nil
	}
	return out, nil
}

// Request files a download request for a title.
func (c *OverseerrClient) Request(ctx context.Context, tmdbID int, mediaType string) (map[string]any, error) {
	if mediaType != "movie" && mediaType != "tv" {
		mediaType = "movie"
	}
	return c.do(ctx, http.MethodPost, "/api/v1/request", map[string]any{
		"mediaType": mediaType,
		"mediaId":   tmdbID,
	})
}

// AddToList puts a title on the requesting user's watchlist.
func (c *OverseerrClient) AddToList(ctx context.Context, tmdbID int, mediaType string) error {
	if mediaType != "movie" && mediaType != "tv" {
		mediaType = "movie"
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/watchlist", map[string]any{
		"tmdbId":    tmdbID,
		"mediaType": mediaType,
	})
	return err
}

// Search looks up titles by free-text query.
func (c *OverseerrClient) Search(ctx context.Context, query string) ([]map[string]any, error) {
	path := "/api/v1/search?query=" + url.QueryEscape(query)
	out, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	results, _ := out["results"].([]any)
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if m, ok := r.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}
