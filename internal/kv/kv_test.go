package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "v" {
		t.Errorf("expected v, got %s", val)
	}
}

func TestMemoryStoreMiss(t *testing.T) {
	s := NewMemoryStore()

	_, ok, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected miss for absent key")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.nowFn = func() time.Time { return now }

	if err := s.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.nowFn = func() time.Time { return now.Add(2 * time.Second) }

	_, ok, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected key to expire")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "k", "v", 0)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key to be gone after delete")
	}

	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client)
	ctx := context.Background()

	if err := s.Set(ctx, "halcyon:test", "payload", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok, err := s.Get(ctx, "halcyon:test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || val != "payload" {
		t.Errorf("expected payload, got %q ok=%v", val, ok)
	}

	mr.FastForward(2 * time.Hour)

	if _, ok, _ := s.Get(ctx, "halcyon:test"); ok {
		t.Error("expected key to expire after TTL")
	}
}

func TestRedisStoreMissAndDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "absent"); err != nil || ok {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	s.Set(ctx, "k", "v", 0)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key to be gone after delete")
	}
}
