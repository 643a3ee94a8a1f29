package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"halcyon/internal/eventbus"
	"halcyon/internal/kv"
	"halcyon/internal/media"
)

type fakeRecommender struct {
	options []media.Candidate
	err     error
}

func (f *fakeRecommender) RecommendForUser(_ context.Context, _ string, _ int) ([]media.Candidate, error) {
	return f.options, f.err
}

func (f *fakeRecommender) FormatSpoken(options []media.Candidate, _ string) string {
	names := make([]string, len(options))
	for i, o := range options {
		names[i] = o.Title
	}
	return "Options: " + strings.Join(names, ", ")
}

type fakeRequester struct {
	requested []int
	listed    []int
	err       error
}

func (f *fakeRequester) Request(_ context.Context, tmdbID int, _ string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requested = append(f.requested, tmdbID)
	return map[string]any{"id": 1}, nil
}

func (f *fakeRequester) AddToList(_ context.Context, tmdbID int, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.listed = append(f.listed, tmdbID)
	return nil
}

func threeOptions() []media.Candidate {
	return []media.Candidate{
		{TMDBID: 101, Type: "movie", Title: "Skyfire"},
		{TMDBID: 201, Type: "tv", Title: "The Ledger"},
		{TMDBID: 102, Type: "movie", Title: "Quiet Hours"},
	}
}

func TestMediaRecommendCachesOffers(t *testing.T) {
	cache := kv.NewMemoryStore()
	bus := eventbus.NewRecorder()
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, &fakeRequester{}, cache, bus)

	res := m.Recommend(context.Background(), nil, ownerContext())
	if !res.OK {
		t.Fatalf("Recommend failed: %+v", res)
	}

	if _, ok, _ := cache.Get(context.Background(), "halcyon:media:last:owner-uuid"); !ok {
		t.Error("offers not cached under the speaker key")
	}
}

func TestMediaRequestFlow(t *testing.T) {
	cache := kv.NewMemoryStore()
	bus := eventbus.NewRecorder()
	req := &fakeRequester{}
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, req, cache, bus)
	ic := ownerContext()

	m.Recommend(context.Background(), nil, ic)

	res := m.AddRequest(context.Background(), map[string]any{"pick": 1}, ic)
	if !res.OK {
		t.Fatalf("AddRequest failed: %+v", res)
	}
	if len(req.requested) != 1 || req.requested[0] != 101 {
		t.Errorf("expected request for tmdb 101, got %v", req.requested)
	}

	events := bus.ByTopic("media/request")
	if len(events) != 1 {
		t.Fatalf("expected one media/request event, got %d", len(events))
	}
	if events[0].Payload["ok"] != true || events[0].Payload["tmdb_id"] != 101 {
		t.Errorf("unexpected event payload: %v", events[0].Payload)
	}
}

func TestMediaRequestWithoutOffers(t *testing.T) {
	m := NewMediaIntents(&fakeRecommender{}, &fakeRequester{}, kv.NewMemoryStore(), eventbus.NewRecorder())

	res := m.AddRequest(context.Background(), map[string]any{"pick": 1}, ownerContext())
	if res.OK {
		t.Error("request without prior offers should fail")
	}
	if !strings.Contains(res.Spoken, "recommendations first") {
		t.Errorf("spoken = %q", res.Spoken)
	}
}

func TestMediaRequestPickOutOfRange(t *testing.T) {
	cache := kv.NewMemoryStore()
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, &fakeRequester{}, cache, eventbus.NewRecorder())
	ic := ownerContext()

	m.Recommend(context.Background(), nil, ic)
	res := m.AddRequest(context.Background(), map[string]any{"pick": 7}, ic)
	if res.OK {
		t.Error("out-of-range pick should fail")
	}
}

func TestMediaRequestOrdinalPick(t *testing.T) {
	cache := kv.NewMemoryStore()
	req := &fakeRequester{}
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, req, cache, eventbus.NewRecorder())
	ic := ownerContext()

	m.Recommend(context.Background(), nil, ic)
	res := m.AddRequest(context.Background(), map[string]any{"pick": "second"}, ic)
	if !res.OK {
		t.Fatalf("ordinal pick failed: %+v", res)
	}
	if req.requested[0] != 201 {
		t.Errorf("expected second option (201), got %v", req.requested)
	}
}

func TestMediaAdultGating(t *testing.T) {
	cache := kv.NewMemoryStore()
	bus := eventbus.NewRecorder()
	opts := threeOptions()
	opts[0].Adult = true
	m := NewMediaIntents(&fakeRecommender{options: opts}, &fakeRequester{}, cache, bus)

	ic := ownerContext()
	ic.AllowSensitive = false
	m.Recommend(context.Background(), nil, ic)

	res := m.AddRequest(context.Background(), map[string]any{"pick": 1}, ic)
	if res.OK {
		t.Error("adult title must be blocked without allow_sensitive")
	}
	if len(bus.ByTopic("media/error")) != 1 {
		t.Error("expected a media/error event for the block")
	}
}

func TestMediaAddToList(t *testing.T) {
	cache := kv.NewMemoryStore()
	req := &fakeRequester{}
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, req, cache, eventbus.NewRecorder())
	ic := ownerContext()

	m.Recommend(context.Background(), nil, ic)
	res := m.AddToList(context.Background(), map[string]any{"pick": 3}, ic)
	if !res.OK {
		t.Fatalf("AddToList failed: %+v", res)
	}
	if len(req.listed) != 1 || req.listed[0] != 102 {
		t.Errorf("expected tmdb 102 listed, got %v", req.listed)
	}
}

func TestMediaRecommenderFailure(t *testing.T) {
	bus := eventbus.NewRecorder()
	m := NewMediaIntents(&fakeRecommender{err: errors.New("tmdb down")}, nil, kv.NewMemoryStore(), bus)

	res := m.Recommend(context.Background(), nil, ownerContext())
	if res.OK {
		t.Error("recommender failure should fail the intent")
	}
	if len(bus.ByTopic("media/error")) != 1 {
		t.Error("expected a media/error event")
	}
}

func TestMediaGuestOfferKeyScoping(t *testing.T) {
	cache := kv.NewMemoryStore()
	m := NewMediaIntents(&fakeRecommender{options: threeOptions()}, &fakeRequester{}, cache, eventbus.NewRecorder())

	guest := Context{SessionID: "sess-9", Persona: "HALSTON"}
	m.Recommend(context.Background(), nil, guest)

	if _, ok, _ := cache.Get(context.Background(), "halcyon:media:last:session:sess-9"); !ok {
		t.Error("guest offers should be cached under the session key")
	}
}
