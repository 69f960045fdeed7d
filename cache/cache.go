// Package cache is a thin durable key/value wrapper over the transformed
// source the AST Rewriter produces, keyed by canonical URL path. It is
// grounded on the teacher's accesslog/downloadcounter style of wrapping
// github.com/a-h/kv's Store directly rather than introducing a second
// abstraction layer.
package cache

import (
	"context"
	"log/slog"

	"github.com/a-h/kv"
)

// Cache stores transformed source bytes keyed by canonical URL path. There
// is no TTL; invalidation happens by bumping the cdnv build tag embedded
// in every key.
type Cache struct {
	store kv.Store
	log   *slog.Logger
}

// New creates a Cache backed by store.
func New(store kv.Store, log *slog.Logger) *Cache {
	return &Cache{store: store, log: log}
}

// entry is the value shape persisted for each cache key.
type entry struct {
	Source string `json:"source"`
}

// Get returns the stored source for key, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (source string, ok bool, err error) {
	var e entry
	_, ok, err = c.store.Get(ctx, key, &e)
	if err != nil || !ok {
		return "", false, err
	}
	return e.Source, true, nil
}

// Set upserts source under key. Per the spec's CacheWriteFailure policy, a
// write failure is logged and swallowed — a miss is always recoverable by
// recomputation, so Set returns no error.
func (c *Cache) Set(ctx context.Context, key, source string) {
	if err := c.store.Put(ctx, key, -1, entry{Source: source}); err != nil {
		if c.log != nil {
			c.log.Warn("cache: write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
