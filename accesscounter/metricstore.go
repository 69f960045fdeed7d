package accesscounter

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/a-h/kv"
)

func New(store kv.Store) *Counter {
	return &Counter{
		store: store,
		now:   time.Now,
	}
}

// Counter tracks daily serve counts per (registry, package name) using the
// KV store's version-increments-on-put behaviour as the counter itself, the
// same trick the teacher's download counter and access log both use.
type Counter struct {
	store kv.Store
	now   func() time.Time
}

func (m *Counter) buildCounterKey(registry, name string, date time.Time) string {
	encodedRegistry := url.PathEscape(registry)
	encodedName := url.PathEscape(name)
	encodedDate := date.Format("2006-01-02")
	return path.Join("/accesscounter", encodedRegistry, encodedName, encodedDate)
}

func (m *Counter) buildCounterPrefix(registry, name string) string {
	encodedRegistry := url.PathEscape(registry)
	encodedName := url.PathEscape(name)
	return path.Join("/accesscounter", encodedRegistry, encodedName) + "/"
}

func (m *Counter) Increment(ctx context.Context, registry, name string) (err error) {
	day := m.now().Truncate(24 * time.Hour)
	key := m.buildCounterKey(registry, name, day)
	return m.store.Put(ctx, key, -1, "")
}

func (m *Counter) Get(ctx context.Context, registry, name string) (counts Counts, err error) {
	rows, err := m.store.GetPrefix(ctx, m.buildCounterPrefix(registry, name), 0, -1)
	if err != nil {
		return nil, err
	}

	counts = make([]Count, len(rows))
	for i, row := range rows {
		parts := strings.Split(row.Key, "/")
		if len(parts) != 5 {
			return counts, fmt.Errorf("invalid key format: %s", row.Key)
		}
		if counts[i].Date, err = time.Parse("2006-01-02", parts[4]); err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		counts[i].Count = row.Version
	}

	return counts, nil
}

type Counts []Count

func (c Counts) Total() (total int) {
	for _, count := range c {
		total += count.Count
	}
	return total
}

type Count struct {
	Date  time.Time
	Count int
}
