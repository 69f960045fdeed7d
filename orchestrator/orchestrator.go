// Package orchestrator composes the URL Codec, Version Resolver, Installer,
// Subpath Resolver, Compiler Registry, AST Rewriter, and Cache into the
// full request pipeline, and implements the HTTP surface the teacher's
// routes package exposes (method handlers behind a plain net/http mux).
package orchestrator

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/a-h/cdndepot/accesscounter"
	"github.com/a-h/cdndepot/cache"
	"github.com/a-h/cdndepot/compiler"
	"github.com/a-h/cdndepot/installer"
	"github.com/a-h/cdndepot/internal/cdnerr"
	"github.com/a-h/cdndepot/metrics"
	"github.com/a-h/cdndepot/registry"
	"github.com/a-h/cdndepot/resolve"
	"github.com/a-h/cdndepot/rewrite"
	"github.com/a-h/cdndepot/urlcodec"
	"github.com/a-h/cdndepot/version"
)

// Build is the opaque cache-invalidating engine revision embedded in every
// canonical URL's "cdnv" segment.
const Build = "pre.1"

// Orchestrator is the top-level service object: every process-wide
// singleton (cache handle, in-flight set, installer, compiler registry) is
// a field here, owned by one value and threaded through request handling
// rather than held in package-level globals.
type Orchestrator struct {
	Log         *slog.Logger
	Registries  registry.Registries
	Installer   *installer.Installer
	Compilers   *compiler.Registry
	Cache       *cache.Cache
	Metrics     metrics.Metrics
	AccessEvent chan<- accesscounter.ServeEvent
	Prefetch    chan<- string // canonical URLs discovered by the rewriter

	inflight singleflight.Group

	mu          sync.Mutex
	inflightSet map[string]struct{}
}

// ServeHTTP implements the full pipeline described by the request
// orchestrator component.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/favicon.ico" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.URL.Path == "/" {
		fmt.Fprint(w, "Hello")
		return
	}

	o.handle(w, r, false)
}

// HandlePrefetch submits a follow-up request for canonicalURL against this
// service, marked speculative: a collision with an in-flight build returns
// 204 immediately instead of waiting.
func (o *Orchestrator) HandlePrefetch(ctx context.Context, canonicalURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return
	}
	rec := &discardResponseWriter{header: http.Header{}}
	o.handle(rec, req, true)
}

func (o *Orchestrator) handle(w http.ResponseWriter, r *http.Request, speculative bool) {
	ctx := r.Context()

	cfg, err := urlcodec.Decode(r.URL.String())
	if err != nil {
		o.Metrics.IncrementRequests(ctx, "", cdnerr.StatusClass(err))
		http.Error(w, err.Error(), cdnerr.StatusClass(err))
		return
	}

	canonicalPath, canonicalCfg, err := o.canonicalize(ctx, cfg)
	if err != nil {
		status := cdnerr.StatusClass(err)
		o.Metrics.IncrementRequests(ctx, cfg.Registry, status)
		http.Error(w, err.Error(), status)
		return
	}

	rawPath := r.URL.Path
	if q := r.URL.RawQuery; q != "" {
		rawPath += "?" + q
	}
	if rawPath != canonicalPath {
		http.Redirect(w, r, canonicalPath, http.StatusTemporaryRedirect)
		return
	}

	if src, ok, err := o.Cache.Get(ctx, canonicalPath); err == nil && ok {
		o.Metrics.IncrementCacheHit(ctx)
		o.recordAccess(canonicalCfg)
		writeGzip(w, src)
		return
	}
	o.Metrics.IncrementCacheMiss(ctx)

	// Speculative prefetches never wait on an in-flight build of the same
	// canonical URL: they bail out with 204 to avoid a stampede. A
	// user-originated request always joins the in-flight singleflight call
	// (or starts one), per the "wait, don't 204" policy for real clients.
	alreadyInflight := o.markInflight(canonicalPath)
	if speculative && alreadyInflight {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !alreadyInflight {
		defer o.unmarkInflight(canonicalPath)
	}

	result, err, _ := o.inflight.Do(canonicalPath, func() (any, error) {
		return o.build(ctx, canonicalCfg, canonicalPath)
	})
	if err != nil {
		if speculative {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status := cdnerr.StatusClass(err)
		o.Metrics.IncrementRequests(ctx, cfg.Registry, status)
		http.Error(w, err.Error(), status)
		return
	}

	built := result.(buildResult)
	o.Metrics.IncrementRequests(ctx, cfg.Registry, http.StatusOK)
	o.recordAccess(canonicalCfg)

	if canonicalCfg.Flags[urlcodec.FlagMetadata.Key] != "" {
		if sidecar, err := json.Marshal(metadataSidecar{
			Name:    canonicalCfg.Name,
			Version: canonicalCfg.Version,
			Subpath: canonicalCfg.Subpath,
			Exports: built.discovered,
		}); err == nil {
			w.Header().Set("X-Cdn-Metadata", string(sidecar))
		}
	}

	writeGzip(w, built.source)

	for _, edge := range built.discovered {
		o.enqueuePrefetch(edge)
	}
}

type metadataSidecar struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Subpath string   `json:"subpath"`
	Exports []string `json:"exports"`
}

type buildResult struct {
	source     string
	discovered []string
}

// canonicalize resolves a raw RequestConfig to its canonical URL, resolving
// version and subpath along the way so the returned config carries an
// exact version and concrete subpath ready for the build step.
func (o *Orchestrator) canonicalize(ctx context.Context, cfg urlcodec.RequestConfig) (canonicalPath string, out urlcodec.RequestConfig, err error) {
	client, ok := o.Registries.For(cfg.Registry)
	if !ok {
		return "", cfg, fmt.Errorf("%w: unknown registry %q", cdnerr.InvalidURL, cfg.Registry)
	}

	packument, err := client.FetchPackument(ctx, cfg.Name)
	if err != nil {
		return "", cfg, fmt.Errorf("%w: %v", cdnerr.VersionUnresolvable, err)
	}
	exact, err := version.Resolve(packument, cfg.Version)
	if err != nil {
		return "", cfg, err
	}
	cfg.Version = exact

	manifest, err := client.PackageInfo(ctx, cfg.Name, exact)
	if err != nil {
		return "", cfg, fmt.Errorf("%w: %v", cdnerr.VersionUnresolvable, err)
	}

	installDir, err := o.Installer.EnsureInstalled(ctx, cfg.Registry, cfg.Name, exact)
	if err != nil {
		return "", cfg, err
	}
	pkgRoot := o.Installer.PackageRoot(cfg.Name, exact)
	_ = installDir

	concrete, err := resolve.Resolve(manifest, cfg.Subpath, pkgRoot)
	if err != nil {
		return "", cfg, fmt.Errorf("%w: %v", cdnerr.FileNotFound, err)
	}
	cfg.Subpath = strings.TrimPrefix(concrete, "./")
	if strings.HasPrefix(concrete, "data:") {
		cfg.Subpath = concrete
	}

	canonicalPath, err = urlcodec.Encode(cfg, Build)
	if err != nil {
		return "", cfg, err
	}
	return canonicalPath, cfg, nil
}

// build performs the read → compile → rewrite → store pipeline for a
// canonical config whose version and subpath are already resolved and
// whose package canonicalize has already installed.
func (o *Orchestrator) build(ctx context.Context, cfg urlcodec.RequestConfig, canonicalPath string) (buildResult, error) {
	if strings.HasPrefix(cfg.Subpath, "data:") {
		o.Cache.Set(ctx, canonicalPath, cfg.Subpath)
		return buildResult{source: cfg.Subpath}, nil
	}

	pkgRoot := o.Installer.PackageRoot(cfg.Name, cfg.Version)
	filePath := path.Join(pkgRoot, cfg.Subpath)

	src, err := readFile(filePath)
	if err != nil {
		return buildResult{}, fmt.Errorf("%w: %v", cdnerr.FileNotFound, err)
	}

	if strings.HasSuffix(cfg.Subpath, ".svelte") {
		if svelteVersion, ok := cfg.Flags[urlcodec.FlagSvelte.Key]; ok && svelteVersion != "" {
			compiled, err := o.Compilers.Compile(ctx, svelteVersion, src, compiler.Options{
				Name:     cfg.Name,
				Filename: cfg.Subpath,
			})
			if err != nil {
				o.Log.Warn("compile failed, serving source untransformed", slog.String("file", cfg.Subpath), slog.String("error", err.Error()))
			} else {
				src = compiled.Code
				o.Metrics.IncrementCompile(ctx, svelteVersion)
			}
		}
	}

	rw := &rewrite.Rewriter{
		Log: o.Log,
		ResolveRelative: func(ctx context.Context, specifier string) (string, error) {
			return o.resolveRelative(ctx, cfg, specifier)
		},
		ResolveBare: func(ctx context.Context, specifier string) (string, error) {
			return o.resolveBare(ctx, cfg, specifier)
		},
	}
	result := rw.Rewrite(ctx, cfg.Subpath, src)

	o.Cache.Set(ctx, canonicalPath, result.Source)
	return buildResult{source: result.Source, discovered: result.Discovered}, nil
}

// resolveRelative resolves a relative specifier against the current
// request's package and subpath, preserving the svelte flag when set, by
// feeding it back through canonicalize.
func (o *Orchestrator) resolveRelative(ctx context.Context, cfg urlcodec.RequestConfig, specifier string) (string, error) {
	target := path.Join(path.Dir(cfg.Subpath), specifier)
	next := urlcodec.RequestConfig{
		Registry: cfg.Registry,
		Name:     cfg.Name,
		Version:  cfg.Version,
		Subpath:  target,
		Flags:    map[string]string{},
	}
	if v, ok := cfg.Flags[urlcodec.FlagSvelte.Key]; ok {
		next.Flags[urlcodec.FlagSvelte.Key] = v
	}
	canonicalPath, _, err := o.canonicalize(ctx, next)
	if err != nil {
		return "", err
	}
	return canonicalPath, nil
}

// resolveBare resolves a bare specifier by extracting the package name,
// looking up its declared dependency range, resolving and installing it,
// then resolving the remainder of the specifier as the subpath.
func (o *Orchestrator) resolveBare(ctx context.Context, cfg urlcodec.RequestConfig, specifier string) (string, error) {
	name, subpath := splitBareSpecifier(specifier)

	client, ok := o.Registries.For(cfg.Registry)
	if !ok {
		return "", fmt.Errorf("%w: unknown registry %q", cdnerr.ResolverStepFailure, cfg.Registry)
	}
	parentManifest, err := client.PackageInfo(ctx, cfg.Name, cfg.Version)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cdnerr.ResolverStepFailure, err)
	}

	rangeOrTag := parentManifest.DependencyVersion(name)
	if name == "svelte" {
		if v, ok := cfg.Flags[urlcodec.FlagSvelte.Key]; ok && v != "" {
			rangeOrTag = v
		}
	}

	next := urlcodec.RequestConfig{
		Registry: cfg.Registry,
		Name:     name,
		Version:  rangeOrTag,
		Subpath:  subpath,
		Flags:    map[string]string{},
	}
	canonicalPath, _, err := o.canonicalize(ctx, next)
	if err != nil {
		return "", fmt.Errorf("%w: %v", cdnerr.ResolverStepFailure, err)
	}
	return canonicalPath, nil
}

func splitBareSpecifier(specifier string) (name, subpath string) {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) < 2 {
			return specifier, "."
		}
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, "./" + parts[2]
		}
		return name, "."
	}
	parts := strings.SplitN(specifier, "/", 2)
	if len(parts) == 1 {
		return parts[0], "."
	}
	return parts[0], "./" + parts[1]
}

func (o *Orchestrator) recordAccess(cfg urlcodec.RequestConfig) {
	if o.AccessEvent == nil {
		return
	}
	select {
	case o.AccessEvent <- accesscounter.ServeEvent{Registry: cfg.Registry, Name: cfg.Name}:
	default:
		// Buffer full: drop the event rather than block the response.
	}
}

// markInflight records canonicalPath as in-flight and reports whether it
// already was, so a speculative request can tell a collision from a fresh
// build.
func (o *Orchestrator) markInflight(canonicalPath string) (alreadyInflight bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflightSet == nil {
		o.inflightSet = map[string]struct{}{}
	}
	_, alreadyInflight = o.inflightSet[canonicalPath]
	o.inflightSet[canonicalPath] = struct{}{}
	return alreadyInflight
}

func (o *Orchestrator) unmarkInflight(canonicalPath string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflightSet, canonicalPath)
}

func (o *Orchestrator) enqueuePrefetch(canonicalURL string) {
	if o.Prefetch == nil {
		return
	}
	select {
	case o.Prefetch <- canonicalURL:
	default:
	}
}

func writeGzip(w http.ResponseWriter, src string) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(src))
	_ = gz.Close()

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Content-Encoding", "gzip")
	_, _ = w.Write(buf.Bytes())
}

// discardResponseWriter satisfies http.ResponseWriter for prefetch requests,
// whose bodies nobody reads.
type discardResponseWriter struct {
	header http.Header
	mu     sync.Mutex
}

func (d *discardResponseWriter) Header() http.Header         { return d.header }
func (d *discardResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (d *discardResponseWriter) WriteHeader(statusCode int)  {}

func readFile(filePath string) (string, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
