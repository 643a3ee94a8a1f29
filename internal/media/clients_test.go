package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTMDBTrendingParsesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/trending/movie/week" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_key") != "test-key" {
			t.Errorf("missing api key")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": 7, "title": "Skyfire", "genre_ids": []int{28}, "popularity": 55.5, "release_date": "2023-04-01"},
			},
		})
	}))
	defer srv.Close()

	c := NewTMDBClient("test-key", srv.Client())
	c.SetBaseURL(srv.URL)

	opts, err := c.Trending(context.Background(), "movie")
	if err != nil {
		t.Fatalf("Trending failed: %v", err)
	}
	if len(opts) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(opts))
	}
	got := opts[0]
	if got.TMDBID != 7 || got.Title != "Skyfire" || got.ReleaseYear != 2023 {
		t.Errorf("unexpected candidate: %+v", got)
	}
	if len(got.Genres) != 1 || got.Genres[0] != "Action" {
		t.Errorf("genre ids not mapped: %v", got.Genres)
	}
	if got.Source != SourceTrending {
		t.Errorf("source = %s", got.Source)
	}

	// Second call is served from cache.
	if _, err := c.Trending(context.Background(), "movie"); err != nil {
		t.Fatalf("cached Trending failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestTMDBErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewTMDBClient("bad-key", srv.Client())
	c.SetBaseURL(srv.URL)

	if _, err := c.Trending(context.Background(), "movie"); err == nil {
		t.Error("expected error on 401")
	}
}

func TestPlexHistoryParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("X-Plex-Token") != "tok" {
			t.Error("missing plex token")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"MediaContainer": map[string]any{
				"Metadata": []map[string]any{
					{
						"type": "movie", "title": "Quiet Hours", "year": 2018,
						"duration": 5400000, "viewedAt": 1700000000,
						"Guid":  []map[string]any{{"id": "tmdb://102"}},
						"Genre": []map[string]any{{"tag": "Drama"}},
					},
					{
						"type": "episode", "title": "The Ledger", "year": 2021,
						"duration": 2700000, "viewedAt": 1700000100,
						"Guid": []map[string]any{{"id": "tmdb://201"}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewPlexClient(srv.URL, "tok", map[string]int{"owner-uuid": 1}, srv.Client())

	movies, err := c.UserHistory(context.Background(), "owner-uuid", "movie", 10)
	if err != nil {
		t.Fatalf("UserHistory failed: %v", err)
	}
	if len(movies) != 1 {
		t.Fatalf("expected 1 movie, got %d", len(movies))
	}
	m := movies[0]
	if m.TMDBID != 102 || m.Runtime != 90 || m.ReleaseYear != 2018 {
		t.Errorf("unexpected history item: %+v", m)
	}
	if len(m.Genres) != 1 || m.Genres[0] != "Drama" {
		t.Errorf("genres not parsed: %v", m.Genres)
	}
}

func TestPlexUnmappedSpeakerHasNoHistory(t *testing.T) {
	c := NewPlexClient("http://unused", "tok", nil, nil)
	items, err := c.UserHistory(context.Background(), "stranger", "movie", 10)
	if err != nil {
		t.Fatalf("UserHistory failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("unmapped speaker should have empty history, got %d items", len(items))
	}
}

func TestOverseerrRequest(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "api-key" {
			t.Error("missing api key header")
		}
		if r.URL.Path != "/api/v1/request" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 42})
	}))
	defer srv.Close()

	c := NewOverseerrClient(srv.URL, "api-key", srv.Client())
	out, err := c.Request(context.Background(), 101, "movie")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if gotBody["mediaId"] != float64(101) || gotBody["mediaType"] != "movie" {
		t.Errorf("unexpected request body: %v", gotBody)
	}
	if out["id"] != float64(42) {
		t.Errorf("response not decoded: %v", out)
	}
}

func TestOverseerrErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewOverseerrClient(srv.URL, "bad", srv.Client())
	if _, err := c.Request(context.Background(), 101, "movie"); err == nil {
		t.Error("expected error on 403")
	}
}
