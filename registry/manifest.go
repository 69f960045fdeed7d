// Package registry fetches package manifests from the registries this CDN
// knows about (npm and GitHub), in the same plain-net/http-and-json style
// the teacher's npm/download package used to fetch registry.npmjs.org
// documents, extended with the export/legacy-entry fields the subpath
// resolver needs that a tarball downloader never had to care about.
package registry

import (
	"encoding/json"
	"time"
)

// Packument is the full registry document for a package name: every known
// version plus the dist-tag pointers ("latest", etc).
type Packument struct {
	Name     string              `json:"name"`
	Modified time.Time           `json:"modified"`
	DistTags map[string]string   `json:"dist-tags"`
	Versions map[string]Manifest `json:"versions"`
}

// Manifest is one version's package.json, trimmed to the fields this CDN
// reads. Dependency maps are used by the AST Rewriter to pick a bare
// specifier's version; Main/Module/Browser/Svelte/Exports are used by the
// Subpath Resolver.
type Manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dist                 *Dist             `json:"dist,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`

	// Entry point fields used by the Subpath Resolver, in the precedence
	// order the resolver itself implements.
	Svelte  string          `json:"svelte,omitempty"`
	Exports json.RawMessage `json:"exports,omitempty"`
	Browser json.RawMessage `json:"browser,omitempty"`
	Module  string          `json:"module,omitempty"`
	Main    string          `json:"main,omitempty"`
}

// Dist carries the tarball location and integrity metadata npm publishes
// for a version.
type Dist struct {
	Integrity string `json:"integrity,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
	Tarball   string `json:"tarball"`
}

// DependencyVersion returns the range/tag a manifest requests for a bare
// specifier, checking dependencies, then devDependencies, then
// peerDependencies, defaulting to "latest" — the precedence the AST
// Rewriter's bare-specifier resolution step requires.
func (m Manifest) DependencyVersion(name string) string {
	if v, ok := m.Dependencies[name]; ok {
		return v
	}
	if v, ok := m.DevDependencies[name]; ok {
		return v
	}
	if v, ok := m.PeerDependencies[name]; ok {
		return v
	}
	return "latest"
}
