package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	c, err := NewSQLiteCache(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("NewSQLiteCache failed: %v", err)
	}

	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	return c
}

func TestSQLiteCacheRequiresPath(t *testing.T) {
	if _, err := NewSQLiteCache(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	if err := c.Store(ctx, "unit!a", "etag1", []byte("payload")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	value, ok, err := c.Get(ctx, "unit!a", "etag1")
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

func TestSQLiteCacheEtagMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	if err := c.Store(ctx, "unit!a", "etag1", []byte("payload")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, ok, err := c.Get(ctx, "unit!a", "other")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on etag mismatch")
	}
}

func TestSQLiteCacheStoreReplaces(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	if err := c.Store(ctx, "k", "e1", []byte("old")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := c.Store(ctx, "k", "e2", []byte("new")); err != nil {
		t.Fatalf("second Store failed: %v", err)
	}

	if _, ok, _ := c.Get(ctx, "k", "e1"); ok {
		t.Fatal("old etag should no longer hit")
	}

	value, ok, err := c.Get(ctx, "k", "e2")
	if err != nil || !ok {
		t.Fatalf("expected hit for new etag, ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(value, []byte("new")) {
		t.Fatalf("unexpected value: %q", value)
	}
}

func TestSQLiteCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	if err := c.Store(ctx, "k", "", []byte("v")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k", ""); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSQLiteCacheStats(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	_ = c.Store(ctx, "a", "", []byte("12"))
	_ = c.Store(ctx, "b", "", []byte("3456"))

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", st.Entries)
	}
	if st.TotalSize != 6 {
		t.Fatalf("expected total size 6, got %d", st.TotalSize)
	}
}

func TestSQLiteCachePrune(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCache(t)

	if err := c.Store(ctx, "stale", "", []byte("v")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	removed, err := c.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}

	if _, ok, _ := c.Get(ctx, "stale", ""); ok {
		t.Fatal("expected miss after prune")
	}
}
