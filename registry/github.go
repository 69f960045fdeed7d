package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GitHub is a Client that treats git refs as versions: "name" is
// "<owner>/<repo>", and package.json is read straight from the repository
// at the requested ref via the raw content CDN, with tags/default-branch
// discovery through the regular GitHub API.
type GitHub struct {
	apiBaseURL string
	rawBaseURL string
	token      string
	client     *http.Client
}

// NewGitHub creates a GitHub-backed registry client. token is optional; when
// set it's sent as a Bearer token to raise the anonymous rate limit.
func NewGitHub(token string) *GitHub {
	return &GitHub{
		apiBaseURL: "https://api.github.com",
		rawBaseURL: "https://raw.githubusercontent.com",
		token:      token,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Client = (*GitHub)(nil)

type githubRepo struct {
	DefaultBranch string `json:"default_branch"`
}

type githubTag struct {
	Name string `json:"name"`
}

func (g *GitHub) FetchPackument(ctx context.Context, name string) (*Packument, error) {
	repo, err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s", g.apiBaseURL, name), new(githubRepo))
	if err != nil {
		return nil, fmt.Errorf("registry: github repo %s: %w", name, err)
	}

	var tags []githubTag
	if _, err := g.getJSONInto(ctx, fmt.Sprintf("%s/repos/%s/tags", g.apiBaseURL, name), &tags); err != nil {
		return nil, fmt.Errorf("registry: github tags for %s: %w", name, err)
	}

	p := &Packument{
		Name:     name,
		DistTags: map[string]string{"latest": repo.DefaultBranch},
		Versions: map[string]Manifest{},
	}
	// Each tag is treated as an installable ref/"version"; the manifest body
	// for a tag is only fetched lazily by PackageInfo once a ref is chosen.
	for _, t := range tags {
		p.Versions[strings.TrimPrefix(t.Name, "v")] = Manifest{Name: name, Version: strings.TrimPrefix(t.Name, "v")}
	}
	// The default branch itself is always resolvable even with no tags.
	if _, ok := p.Versions[repo.DefaultBranch]; !ok {
		p.Versions[repo.DefaultBranch] = Manifest{Name: name, Version: repo.DefaultBranch}
	}
	return p, nil
}

func (g *GitHub) PackageInfo(ctx context.Context, name, version string) (*Manifest, error) {
	ref := version
	url := fmt.Sprintf("%s/%s/%s/package.json", g.rawBaseURL, name, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: github package.json for %s@%s: %w", name, ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry: github package.json for %s@%s: HTTP %d", name, ref, resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("registry: decode github package.json for %s@%s: %w", name, ref, err)
	}
	m.Name = name
	m.Version = ref
	return &m, nil
}

func (g *GitHub) getJSON(ctx context.Context, url string, v *githubRepo) (*githubRepo, error) {
	if _, err := g.getJSONInto(ctx, url, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (g *GitHub) getJSONInto(ctx context.Context, url string, v any) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}
