package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultNPMRegistryURL = "https://registry.npmjs.org"

// NPM is a Client backed by an npm-registry-shaped HTTP API
// (registry.npmjs.org or a compatible mirror/proxy).
type NPM struct {
	baseURL string
	client  *http.Client
}

// NewNPM creates an npm registry client. baseURL defaults to
// registry.npmjs.org when empty, so operators can point at a private mirror.
func NewNPM(baseURL string) *NPM {
	if baseURL == "" {
		baseURL = defaultNPMRegistryURL
	}
	return &NPM{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Client = (*NPM)(nil)

func (n *NPM) FetchPackument(ctx context.Context, name string) (*Packument, error) {
	url := fmt.Sprintf("%s/%s", n.baseURL, packumentPathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json, application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: fetch packument for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("registry: package %s not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: fetch packument for %s: HTTP %d", name, resp.StatusCode)
	}

	var p Packument
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("registry: decode packument for %s: %w", name, err)
	}
	return &p, nil
}

func (n *NPM) PackageInfo(ctx context.Context, name, version string) (*Manifest, error) {
	p, err := n.FetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	m, ok := p.Versions[version]
	if !ok {
		return nil, fmt.Errorf("registry: version %s not found for %s", version, name)
	}
	return &m, nil
}

// packumentPathEscape encodes a package name the way npm's registry expects:
// scoped names ("@scope/name") keep their slash, everything else is used
// verbatim; the registry itself tolerates unescaped names for the common case.
func packumentPathEscape(name string) string {
	return name
}
