package registry

import "context"

// Client is the narrow registry-manifest collaborator the spec treats as
// external: "manifest(spec) → { version, ... }" plus a full document fetch.
// npm and github are the two concrete implementations.
type Client interface {
	// FetchPackument returns the full registry document for name, including
	// every known version and dist-tags. Used by the Version Resolver.
	FetchPackument(ctx context.Context, name string) (*Packument, error)

	// PackageInfo returns the manifest for one exact version, used once a
	// version has already been resolved.
	PackageInfo(ctx context.Context, name, version string) (*Manifest, error)
}

// Registries multiplexes by the RequestConfig.Registry value.
type Registries struct {
	NPM    Client
	GitHub Client
}

// For returns the client for the named registry ("npm" or "github").
func (r Registries) For(name string) (Client, bool) {
	switch name {
	case "npm":
		return r.NPM, r.NPM != nil
	case "github":
		return r.GitHub, r.GitHub != nil
	default:
		return nil, false
	}
}
