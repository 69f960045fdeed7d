package cache_test

import (
	"context"
	"testing"

	"github.com/a-h/cdndepot/cache"
	"github.com/a-h/cdndepot/store"
)

func TestCacheMiss(t *testing.T) {
	ctx := context.Background()
	s, closer, err := store.New(ctx, "sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	c := cache.New(s, nil)
	_, ok, err := c.Get(ctx, "/npm/left-pad@1.3.0/index.js!!cdnv:pre.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected a miss for an unset key")
	}
}

func TestCacheSetThenGet(t *testing.T) {
	ctx := context.Background()
	s, closer, err := store.New(ctx, "sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	c := cache.New(s, nil)
	key := "/npm/left-pad@1.3.0/index.js!!cdnv:pre.1"
	c.Set(ctx, key, "module.exports = function leftPad() {};")

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a hit after Set")
	}
	if got != "module.exports = function leftPad() {};" {
		t.Fatalf("got %q", got)
	}
}

func TestCacheSetOverwritesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	s, closer, err := store.New(ctx, "sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	c := cache.New(s, nil)
	key := "/npm/left-pad@1.3.0/index.js!!cdnv:pre.1"
	c.Set(ctx, key, "first")
	c.Set(ctx, key, "second")

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || got != "second" {
		t.Fatalf("got (%q, %v), want (\"second\", true)", got, ok)
	}
}
