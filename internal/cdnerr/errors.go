// Package cdnerr defines the typed error kinds the orchestrator maps onto
// HTTP status classes, per the depot CDN's error handling design.
package cdnerr

import "errors"

// Sentinel error kinds. Wrap one with fmt.Errorf("...: %w", cdnerr.InvalidURL)
// and recover it at the HTTP boundary with errors.Is.
var (
	// InvalidURL: the request path matches neither the raw nor canonical grammar.
	InvalidURL = errors.New("invalid url")
	// VersionUnresolvable: the registry has no version satisfying the request.
	VersionUnresolvable = errors.New("version unresolvable")
	// InstallFailed: the package manager exited non-zero.
	InstallFailed = errors.New("install failed")
	// FileNotFound: the resolved subpath doesn't exist on disk.
	FileNotFound = errors.New("file not found")
	// CompileError: the component compiler threw. Callers should degrade to
	// pass-through rather than surface this to the client.
	CompileError = errors.New("compile error")
	// ParseError: the module parser failed. Callers should skip rewriting.
	ParseError = errors.New("parse error")
	// ResolverStepFailure: a single specifier couldn't be canonicalized.
	ResolverStepFailure = errors.New("resolver step failure")
	// CacheWriteFailure: the KV store rejected a write.
	CacheWriteFailure = errors.New("cache write failure")
)

// StatusClass maps an error kind to the HTTP status family it should surface
// as, for kinds that are allowed to reach the client at all.
func StatusClass(err error) int {
	switch {
	case errors.Is(err, InvalidURL):
		return 400
	case errors.Is(err, VersionUnresolvable):
		return 404
	case errors.Is(err, InstallFailed):
		return 502
	case errors.Is(err, FileNotFound):
		return 404
	default:
		return 500
	}
}
