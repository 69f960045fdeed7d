// Package urlcodec implements the two request-URL grammars the service
// recognizes — raw and canonical — and the decode/encode pair that moves
// between them. Canonicalization is idempotent: encoding the result of a
// decode of an already-canonical URL reproduces it byte-for-byte.
package urlcodec

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/a-h/cdndepot/internal/cdnerr"
)

// Flag is a recognized, order-sensitive option embedded in a canonical
// URL's trailing "!!cdnv:...;alias:value" segment. The registered set is
// closed: unknown aliases are dropped during decode, never carried through.
type Flag struct {
	Key   string
	Alias string
}

var (
	FlagSvelte   = Flag{Key: "svelte", Alias: "s"}
	FlagMetadata = Flag{Key: "metadata", Alias: "md"}
)

// registeredFlags is the closed set; order here has no bearing on encode
// output, which always sorts aliases lexicographically.
var registeredFlags = []Flag{FlagSvelte, FlagMetadata}

func flagByAlias(alias string) (Flag, bool) {
	for _, f := range registeredFlags {
		if f.Alias == alias {
			return f, true
		}
	}
	return Flag{}, false
}

func flagByKey(key string) (Flag, bool) {
	for _, f := range registeredFlags {
		if f.Key == key {
			return f, true
		}
	}
	return Flag{}, false
}

// RequestConfig is the resolved description of one request.
type RequestConfig struct {
	Registry    string // "npm" or "github"
	Name        string
	Version     string // exact, three-part, optional pre-release; or a range/tag pre-resolution
	Subpath     string // package-relative path with no leading "/" or "./" (e.g. "index.js"), or "." for the root
	Flags       map[string]string
	OriginalURL string
	Build       string // the "cdnv" build tag; empty until known
	Query       url.Values
}

// packageNamePattern matches a package name in any of the three shapes the
// two registries use: a scoped npm name ("@scope/name"), a github
// "owner/repo" name, or a bare unscoped npm name.
const packageNamePattern = `(?:@[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+|[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+|[a-zA-Z0-9._-]+)`

var (
	canonicalPattern = regexp.MustCompile(
		`^/(npm|github)/(` + packageNamePattern + `)@([0-9]+\.[0-9]+\.[0-9]+(?:-[0-9A-Za-z.-]+)?)(/[^!]*)?!!cdnv:([^;]+)((?:;[a-zA-Z0-9._-]+:[^;]*)*)$`,
	)
	rawPattern = regexp.MustCompile(
		`^/?(?:(npm|github)/)?(` + packageNamePattern + `)(?:@([^/]+))?(/.*)?$`,
	)
)

// Decode parses rawURL (which may be in either grammar) into a RequestConfig.
// Canonical URLs carry an exact version and a build tag already; raw URLs
// default version to "latest", subpath to ".", and read flags from the
// query string.
func Decode(rawURL string) (RequestConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestConfig{}, fmt.Errorf("%w: %q: %v", cdnerr.InvalidURL, rawURL, err)
	}

	if m := canonicalPattern.FindStringSubmatch(u.Path); m != nil {
		cfg := RequestConfig{
			Registry:    m[1],
			Name:        m[2],
			Version:     m[3],
			Subpath:     normalizeSubpath(m[4]),
			OriginalURL: rawURL,
			Build:       m[5],
			Flags:       map[string]string{},
			Query:       u.Query(),
		}
		for _, pair := range strings.Split(strings.TrimPrefix(m[6], ";"), ";") {
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				continue
			}
			alias, value := kv[0], kv[1]
			if alias == "cdnv" {
				continue
			}
			if f, ok := flagByAlias(alias); ok {
				cfg.Flags[f.Key] = value
			}
			// Unknown aliases are silently dropped, per the invariant that
			// every flag in a canonical URL is in the recognized set.
		}
		return cfg, nil
	}

	if m := rawPattern.FindStringSubmatch(u.Path); m != nil && m[2] != "" {
		registry := m[1]
		if registry == "" && m[3] == "" && m[4] != "" && (m[2] == "npm" || m[2] == "github") {
			// A leading "npm/" or "github/" segment always names the registry;
			// no package name follows it here.
			return RequestConfig{}, fmt.Errorf("%w: %q names a registry but no package", cdnerr.InvalidURL, rawURL)
		}
		if registry == "" {
			registry = "npm"
		}
		cfg := RequestConfig{
			Registry:    registry,
			Name:        m[2],
			Version:     "latest",
			Subpath:     normalizeSubpath(m[4]),
			OriginalURL: rawURL,
			Flags:       map[string]string{},
			Query:       u.Query(),
		}
		if m[3] != "" {
			cfg.Version = m[3]
		}

		q := u.Query()
		if v := q.Get("svelte"); v != "" {
			cfg.Flags[FlagSvelte.Key] = v
		} else if _, present := q["svelte"]; present && strings.HasSuffix(cfg.Subpath, ".svelte") {
			cfg.Flags[FlagSvelte.Key] = ""
		}
		if v := q.Get("metadata"); v != "" && !isFalsy(v) {
			cfg.Flags[FlagMetadata.Key] = v
		} else if _, present := q["metadata"]; present && !isFalsy(q.Get("metadata")) {
			cfg.Flags[FlagMetadata.Key] = "1"
		}
		return cfg, nil
	}

	return RequestConfig{}, fmt.Errorf("%w: %q matches neither the canonical nor the raw grammar", cdnerr.InvalidURL, rawURL)
}

func isFalsy(v string) bool {
	switch v {
	case "false", "0", "null":
		return true
	default:
		return false
	}
}

func normalizeSubpath(raw string) string {
	if raw == "" || raw == "/" {
		return "."
	}
	return strings.TrimPrefix(raw, "/")
}

// Encode renders cfg as its canonical URL, given the build tag to embed.
// Flags are filtered to the registered set and sorted lexicographically by
// alias, with "cdnv" always first.
func Encode(cfg RequestConfig, build string) (string, error) {
	if cfg.Registry == "" || cfg.Name == "" || cfg.Version == "" {
		return "", fmt.Errorf("%w: incomplete config for encode", cdnerr.InvalidURL)
	}
	subpath := cfg.Subpath
	if subpath == "" {
		subpath = "."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "/%s/%s@%s/%s", cfg.Registry, cfg.Name, cfg.Version, subpath)

	type pair struct{ alias, value string }
	pairs := []pair{{"cdnv", build}}
	for key, value := range cfg.Flags {
		f, ok := flagByKey(key)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{f.Alias, value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].alias == "cdnv" {
			return true
		}
		if pairs[j].alias == "cdnv" {
			return false
		}
		return pairs[i].alias < pairs[j].alias
	})

	b.WriteString("!!")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, "%s:%s", p.alias, p.value)
	}

	if q := filteredQuery(cfg.Query); len(q) > 0 {
		b.WriteString("?")
		b.WriteString(q.Encode())
	}

	return b.String(), nil
}

// filteredQuery returns q with every recognized flag key removed, since
// those are carried in the "!!cdnv:..." trailer instead.
func filteredQuery(q url.Values) url.Values {
	if len(q) == 0 {
		return nil
	}
	out := url.Values{}
	for k, v := range q {
		if _, ok := flagByKey(k); ok {
			continue
		}
		out[k] = v
	}
	return out
}

// IsCanonical reports whether rawURL already matches the canonical grammar.
func IsCanonical(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return canonicalPattern.MatchString(u.Path)
}
