package cache

import (
	"bytes"
	"context"
	"testing"
)

func TestTieredPromotesSlowHits(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache()
	slow := NewMemoryCache()
	tc := NewTiered(fast, slow)

	if err := slow.Store(ctx, "k", "e", []byte("v")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	value, ok, err := tc.Get(ctx, "k", "e")
	if err != nil || !ok {
		t.Fatalf("expected slow-tier hit, ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("v")) {
		t.Fatalf("unexpected value: %q", value)
	}

	// The hit must now be served from the fast tier.
	if _, ok, _ := fast.Get(ctx, "k", "e"); !ok {
		t.Fatal("expected promotion into fast tier")
	}
}

func TestTieredStoreWritesThrough(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryCache()
	slow := NewMemoryCache()
	tc := NewTiered(fast, slow)

	if err := tc.Store(ctx, "k", "e", []byte("v")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if _, ok, _ := fast.Get(ctx, "k", "e"); !ok {
		t.Fatal("expected fast tier write")
	}
	if _, ok, _ := slow.Get(ctx, "k", "e"); !ok {
		t.Fatal("expected slow tier write")
	}
}

func TestTieredNilSlowTier(t *testing.T) {
	ctx := context.Background()
	tc := NewTiered(NewMemoryCache(), nil)

	if err := tc.Store(ctx, "k", "e", []byte("v")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, ok, err := tc.Get(ctx, "k", "e"); err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := tc.Get(ctx, "missing", ""); ok {
		t.Fatal("expected miss")
	}
}
