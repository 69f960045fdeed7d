package accesscounter

import (
	"context"
	"testing"
	"time"

	"github.com/a-h/cdndepot/store"
	"github.com/google/go-cmp/cmp"
)

func TestCounter(t *testing.T) {
	ctx := context.Background()
	s, closer, err := store.New(ctx, "sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer closer()

	t.Run("counter can increment a value within a registry", func(t *testing.T) {
		counter := New(s)
		now := time.Date(2026, 2, 20, 14, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return now }

		if err := counter.Increment(ctx, "npm", "left-pad"); err != nil {
			t.Fatalf("failed to increment: %v", err)
		}

		counts, err := counter.Get(ctx, "npm", "left-pad")
		if err != nil {
			t.Fatalf("failed to get counts: %v", err)
		}

		expected := Counts{
			{Date: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), Count: 1},
		}
		if diff := cmp.Diff(expected, counts); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("counts are distinct per registry", func(t *testing.T) {
		counter := New(s)
		now := time.Date(2026, 2, 20, 14, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return now }

		if err := counter.Increment(ctx, "npm", "shared-package"); err != nil {
			t.Fatalf("failed to increment npm registry: %v", err)
		}
		if err := counter.Increment(ctx, "github", "shared-package"); err != nil {
			t.Fatalf("failed to increment github registry: %v", err)
		}

		npmCounts, err := counter.Get(ctx, "npm", "shared-package")
		if err != nil {
			t.Fatalf("failed to get npm counts: %v", err)
		}
		githubCounts, err := counter.Get(ctx, "github", "shared-package")
		if err != nil {
			t.Fatalf("failed to get github counts: %v", err)
		}

		expected := Counts{
			{Date: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), Count: 1},
		}
		if diff := cmp.Diff(expected, npmCounts); diff != "" {
			t.Error(diff)
		}
		if diff := cmp.Diff(expected, githubCounts); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("multiple increments on the same day increase the count", func(t *testing.T) {
		counter := New(s)
		now := time.Date(2026, 2, 21, 10, 30, 0, 0, time.UTC)
		counter.now = func() time.Time { return now }

		for range 5 {
			if err := counter.Increment(ctx, "npm", "popular-package"); err != nil {
				t.Fatalf("failed to increment: %v", err)
			}
		}

		counts, err := counter.Get(ctx, "npm", "popular-package")
		if err != nil {
			t.Fatalf("failed to get counts: %v", err)
		}

		expected := Counts{
			{Date: time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC), Count: 5},
		}
		if diff := cmp.Diff(expected, counts); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("counts are distinct per day", func(t *testing.T) {
		counter := New(s)

		day1 := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return day1 }
		if err := counter.Increment(ctx, "npm", "multi-day-package"); err != nil {
			t.Fatalf("failed to increment on day 1: %v", err)
		}

		day2 := time.Date(2026, 2, 16, 15, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return day2 }
		if err := counter.Increment(ctx, "npm", "multi-day-package"); err != nil {
			t.Fatalf("failed to increment on day 2: %v", err)
		}
		if err := counter.Increment(ctx, "npm", "multi-day-package"); err != nil {
			t.Fatalf("failed to increment on day 2 again: %v", err)
		}

		counts, err := counter.Get(ctx, "npm", "multi-day-package")
		if err != nil {
			t.Fatalf("failed to get counts: %v", err)
		}

		expected := Counts{
			{Date: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), Count: 1},
			{Date: time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC), Count: 2},
		}
		if diff := cmp.Diff(expected, counts); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("the count returns a total", func(t *testing.T) {
		counter := New(s)

		day1 := time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return day1 }
		for range 10 {
			if err := counter.Increment(ctx, "npm", "total-test-package"); err != nil {
				t.Fatalf("failed to increment on day 1: %v", err)
			}
		}

		day2 := time.Date(2026, 2, 23, 10, 0, 0, 0, time.UTC)
		counter.now = func() time.Time { return day2 }
		for range 25 {
			if err := counter.Increment(ctx, "npm", "total-test-package"); err != nil {
				t.Fatalf("failed to increment on day 2: %v", err)
			}
		}

		counts, err := counter.Get(ctx, "npm", "total-test-package")
		if err != nil {
			t.Fatalf("failed to get counts: %v", err)
		}

		if actual := counts.Total(); actual != 35 {
			t.Errorf("expected 35, got %d", actual)
		}
	})

	t.Run("get returns empty slice for non-existent registry and name", func(t *testing.T) {
		counter := New(s)

		counts, err := counter.Get(ctx, "non-existent-registry", "non-existent-name")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if len(counts) != 0 {
			t.Errorf("expected 0 counts, got %d", len(counts))
		}
	})
}
