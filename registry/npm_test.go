package registry_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/cdndepot/registry"
)

func TestNPMFetchPackument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/left-pad" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(registry.Packument{
			Name:     "left-pad",
			DistTags: map[string]string{"latest": "1.3.0"},
			Versions: map[string]registry.Manifest{
				"1.3.0": {Name: "left-pad", Version: "1.3.0", Main: "index.js"},
			},
		})
	}))
	defer srv.Close()

	client := registry.NewNPM(srv.URL)
	p, err := client.FetchPackument(t.Context(), "left-pad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DistTags["latest"] != "1.3.0" {
		t.Fatalf("got dist-tags %v", p.DistTags)
	}
	if _, ok := p.Versions["1.3.0"]; !ok {
		t.Fatalf("expected version 1.3.0 present")
	}
}

func TestNPMPackageInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(registry.Packument{
			Name: "left-pad",
			Versions: map[string]registry.Manifest{
				"1.3.0": {Name: "left-pad", Version: "1.3.0", Main: "index.js"},
			},
		})
	}))
	defer srv.Close()

	client := registry.NewNPM(srv.URL)
	m, err := client.PackageInfo(t.Context(), "left-pad", "1.3.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Main != "index.js" {
		t.Fatalf("got main %q", m.Main)
	}
}

func TestNPMPackageInfoMissingVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(registry.Packument{
			Name:     "left-pad",
			Versions: map[string]registry.Manifest{},
		})
	}))
	defer srv.Close()

	client := registry.NewNPM(srv.URL)
	if _, err := client.PackageInfo(t.Context(), "left-pad", "9.9.9"); err == nil {
		t.Fatalf("expected an error for a missing version")
	}
}

func TestNPMFetchPackumentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := registry.NewNPM(srv.URL)
	if _, err := client.FetchPackument(t.Context(), "does-not-exist"); err == nil {
		t.Fatalf("expected an error for a 404")
	}
}
