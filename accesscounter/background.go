// Package accesscounter counts successful canonical-URL serves, keyed by
// registry and package, adapted from the teacher's download counter (which
// counted tarball downloads for the same reason: cheap, buffered, KV-backed
// usage accounting that tolerates dropped events on shutdown).
package accesscounter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/a-h/cdndepot/metrics"
	"github.com/a-h/kv"
)

// ServeEvent records one successful response for a canonical URL.
type ServeEvent struct {
	Registry string
	Name     string
}

// NewBufferedCounter starts a background goroutine draining serve events into
// the KV-backed Counter, and returns the channel to send events to plus a
// shutdown func that drains and waits before returning.
func NewBufferedCounter(ctx context.Context, log *slog.Logger, store kv.Store, m metrics.Metrics, bufferSize int) (events chan ServeEvent, shutdown func()) {
	events = make(chan ServeEvent, bufferSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c := New(store)
		for event := range events {
			log.Debug("recording access", "registry", event.Registry, "name", event.Name)
			if err := c.Increment(ctx, event.Registry, event.Name); err != nil {
				log.Error("failed to record access", slog.String("registry", event.Registry), slog.String("name", event.Name), slog.Any("error", err))
				m.IncrementAccessCounterErrors(ctx, event.Registry)
			}
		}
	}()

	shutdown = func() {
		close(events)
		wg.Wait()
	}

	return events, shutdown
}
