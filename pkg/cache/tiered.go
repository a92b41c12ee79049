package cache

import (
	"context"

	"github.com/xtzx/Fork-webpack-sub002/pkg/engine"
)

// Tiered layers a fast cache in front of a slow one. Hits in the slow tier
// are promoted into the fast tier; stores write through to both.
type Tiered struct {
	fast engine.Cache
	slow engine.Cache
}

// NewTiered creates a tiered cache. slow may be nil, in which case only the
// fast tier is used.
func NewTiered(fast, slow engine.Cache) *Tiered {
	return &Tiered{fast: fast, slow: slow}
}

// Get checks the fast tier and falls back to the slow tier.
func (t *Tiered) Get(ctx context.Context, key, etag string) ([]byte, bool, error) {
	value, ok, err := t.fast.Get(ctx, key, etag)
	if err != nil || ok {
		return value, ok, err
	}
	if t.slow == nil {
		return nil, false, nil
	}

	value, ok, err = t.slow.Get(ctx, key, etag)
	if err != nil || !ok {
		return nil, false, err
	}

	if err := t.fast.Store(ctx, key, etag, value); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Store writes through to both tiers.
func (t *Tiered) Store(ctx context.Context, key, etag string, value []byte) error {
	if err := t.fast.Store(ctx, key, etag, value); err != nil {
		return err
	}
	if t.slow == nil {
		return nil
	}
	return t.slow.Store(ctx, key, etag, value)
}
