package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("NewArchive failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveSaveAndList(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	recs := []TurnRecord{
		{SpeakerUUID: "owner-1", Persona: "halston", Intent: "turn_on_light", TrustScore: 88, Role: "owner", ContextMode: "home", Utterance: "turn on the lights", Response: "Done.", OK: true, RoomID: "lounge"},
		{SpeakerUUID: "owner-1", Persona: "scarlet", Intent: "unlock_door", TrustScore: 40, Role: "guest", ContextMode: "away", Utterance: "unlock the door", Response: "Denied.", OK: false},
		{SpeakerUUID: "guest-2", Persona: "halston", TrustScore: 15, Role: "guest", ContextMode: "home", Utterance: "hello", Response: "Hello.", OK: true},
	}
	for i, rec := range recs {
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := a.SaveTurn(ctx, rec); err != nil {
			t.Fatalf("SaveTurn %d failed: %v", i, err)
		}
	}

	all, err := a.ListTurns(ctx, ListTurnsOptions{})
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d turns, want 3", len(all))
	}
	// Newest first.
	if all[0].SpeakerUUID != "guest-2" {
		t.Errorf("first turn = %s, want guest-2", all[0].SpeakerUUID)
	}

	owner, err := a.ListTurns(ctx, ListTurnsOptions{SpeakerUUID: "owner-1"})
	if err != nil || len(owner) != 2 {
		t.Fatalf("speaker filter: %d turns, %v", len(owner), err)
	}

	scarlet, err := a.ListTurns(ctx, ListTurnsOptions{Persona: "scarlet"})
	if err != nil || len(scarlet) != 1 || scarlet[0].Intent != "unlock_door" {
		t.Fatalf("persona filter: %v, %v", scarlet, err)
	}

	limited, err := a.ListTurns(ctx, ListTurnsOptions{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %d turns, %v", len(limited), err)
	}
}

func TestArchiveStats(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	a.SaveTurn(ctx, TurnRecord{SpeakerUUID: "u1", Persona: "halston", TrustScore: 80, Role: "owner", ContextMode: "home", Utterance: "x", Response: "y", OK: true})
	a.SaveTurn(ctx, TurnRecord{SpeakerUUID: "u1", Persona: "scarlet", TrustScore: 40, Role: "guest", ContextMode: "away", Utterance: "x", Response: "y", OK: false})
	a.SaveTurn(ctx, TurnRecord{SpeakerUUID: "u2", Persona: "halston", TrustScore: 60, Role: "household", ContextMode: "home", Utterance: "x", Response: "y", OK: true})

	stats, err := a.GetStats(ctx, nil)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalTurns != 3 || stats.UniqueSpeakers != 2 {
		t.Errorf("totals = %d turns, %d speakers", stats.TotalTurns, stats.UniqueSpeakers)
	}
	if stats.TurnsByPersona["halston"] != 2 || stats.TurnsByPersona["scarlet"] != 1 {
		t.Errorf("by persona = %v", stats.TurnsByPersona)
	}
	if stats.FailedTurnCount != 1 {
		t.Errorf("failed turns = %d", stats.FailedTurnCount)
	}
	if stats.AvgTrustScore < 59.9 || stats.AvgTrustScore > 60.1 {
		t.Errorf("avg trust = %v", stats.AvgTrustScore)
	}
}

func TestArchiveCleanup(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	a.SaveTurn(ctx, TurnRecord{SpeakerUUID: "u1", Persona: "halston", Role: "guest", ContextMode: "home", Utterance: "old", Response: "y", CreatedAt: time.Now().AddDate(0, 0, -40)})
	a.SaveTurn(ctx, TurnRecord{SpeakerUUID: "u1", Persona: "halston", Role: "guest", ContextMode: "home", Utterance: "new", Response: "y"})

	deleted, err := a.Cleanup(30)
	if err != nil || deleted != 1 {
		t.Fatalf("Cleanup = %d, %v", deleted, err)
	}

	remaining, _ := a.ListTurns(ctx, ListTurnsOptions{})
	if len(remaining) != 1 || remaining[0].Utterance != "new" {
		t.Errorf("remaining = %v", remaining)
	}
}
