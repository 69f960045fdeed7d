package version_test

import (
	"errors"
	"testing"

	"github.com/a-h/cdndepot/internal/cdnerr"
	"github.com/a-h/cdndepot/registry"
	"github.com/a-h/cdndepot/version"
)

func packument() *registry.Packument {
	return &registry.Packument{
		Name:     "left-pad",
		DistTags: map[string]string{"latest": "1.3.0"},
		Versions: map[string]registry.Manifest{
			"1.0.0": {Version: "1.0.0"},
			"1.1.0": {Version: "1.1.0"},
			"1.2.0": {Version: "1.2.0"},
			"1.3.0": {Version: "1.3.0"},
			"2.0.0-beta.1": {Version: "2.0.0-beta.1"},
		},
	}
}

func TestResolveExact(t *testing.T) {
	got, err := version.Resolve(packument(), "1.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.1.0" {
		t.Fatalf("got %q, want 1.1.0", got)
	}
}

func TestResolveDistTag(t *testing.T) {
	got, err := version.Resolve(packument(), "latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.3.0" {
		t.Fatalf("got %q, want 1.3.0", got)
	}
}

func TestResolveCaretRange(t *testing.T) {
	got, err := version.Resolve(packument(), "^1.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.3.0" {
		t.Fatalf("got %q, want the highest matching 1.3.0", got)
	}
}

func TestResolveTildeRange(t *testing.T) {
	got, err := version.Resolve(packument(), "~1.1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.1.0" {
		t.Fatalf("got %q, want 1.1.0", got)
	}
}

func TestResolveNoMatch(t *testing.T) {
	_, err := version.Resolve(packument(), "^5.0.0")
	if !errors.Is(err, cdnerr.VersionUnresolvable) {
		t.Fatalf("expected VersionUnresolvable, got %v", err)
	}
}

func TestResolveGarbage(t *testing.T) {
	_, err := version.Resolve(packument(), "not-a-range")
	if !errors.Is(err, cdnerr.VersionUnresolvable) {
		t.Fatalf("expected VersionUnresolvable, got %v", err)
	}
}
