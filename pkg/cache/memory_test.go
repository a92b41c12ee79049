package cache

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Store(ctx, "unit!a", "v1", []byte("payload")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	value, ok, err := c.Get(ctx, "unit!a", "v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit")
	}
	if !bytes.Equal(value, []byte("payload")) {
		t.Fatalf("unexpected value: %q", value)
	}
}

func TestMemoryCacheEtagMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Store(ctx, "unit!a", "v1", []byte("payload")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, ok, err := c.Get(ctx, "unit!a", "v2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on etag mismatch")
	}
}

func TestMemoryCacheReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Store(ctx, "k", "", []byte("abc")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	value, _, _ := c.Get(ctx, "k", "")
	value[0] = 'x'

	again, _, _ := c.Get(ctx, "k", "")
	if !bytes.Equal(again, []byte("abc")) {
		t.Fatalf("cached bytes mutated: %q", again)
	}
}

func TestMemoryCacheReset(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_ = c.Store(ctx, "a", "", []byte("1"))
	_ = c.Store(ctx, "b", "", []byte("2"))
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after reset, got %d entries", c.Len())
	}
}
