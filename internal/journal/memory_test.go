package journal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "decision:checkout-flow:1", []byte(`{"state":"pending"}`), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := store.Get(ctx, "decision:checkout-flow:1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != `{"state":"pending"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := store.Del(ctx, "decision:checkout-flow:1"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := store.Get(ctx, "decision:checkout-flow:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetMiss(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "claim", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := store.Get(ctx, "claim"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired key to be missing, got %v", err)
	}
}

func TestMemoryStoreSetNXClaims(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "claim", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = store.SetNX(ctx, "claim", []byte("b"), 0)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to be rejected")
	}

	got, err := store.Get(ctx, "claim")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("expected original claim to survive, got %s", got)
	}
}

func TestMemoryStoreSetNXReclaimsExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := store.SetNX(ctx, "claim", []byte("a"), 10*time.Millisecond); !ok {
		t.Fatalf("expected first claim to succeed")
	}
	time.Sleep(25 * time.Millisecond)
	ok, err := store.SetNX(ctx, "claim", []byte("b"), 0)
	if err != nil || !ok {
		t.Fatalf("expected expired key to be reclaimable, ok=%v err=%v", ok, err)
	}
}
