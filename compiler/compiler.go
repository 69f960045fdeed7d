// Package compiler is the version-pinned component-compiler registry: a
// mapping from exact compiler version to a lazily loaded compile thunk.
// Each compiler module runs inside its own embedded QuickJS-via-WASM
// runtime, grounded on the way the teacher's aster pack vendors and
// evaluates module source through github.com/fastschema/qjs.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fastschema/qjs"

	"github.com/a-h/cdndepot/internal/cdnerr"
)

// Options is the closed set of keys the compile contract accepts; the
// engine must never pass an unrecognized key through.
type Options struct {
	Name     string
	Filename string
	Dev      bool
}

// Result is the compile contract's output.
type Result struct {
	Code string
}

// Source supplies a compiler version's bundled module text on first use.
// In production this reads from the installed package's own dist bundle
// (e.g. "svelte/compiler") once Installer.EnsureInstalled has fetched it.
type Source func(ctx context.Context, version string) (moduleSource string, err error)

// Registry lazily loads one QuickJS runtime per compiler version. Each
// thunk's resolved value is cached for the process lifetime, matching the
// "thunks are lazy, idempotent, cached for the process lifetime" rule.
type Registry struct {
	source Source

	mu      sync.Mutex
	thunks  map[string]*thunk
}

type thunk struct {
	once sync.Once
	rt   *qjs.Runtime
	err  error
}

// New creates a Registry that loads compiler module source on demand via
// source.
func New(source Source) *Registry {
	return &Registry{source: source, thunks: map[string]*thunk{}}
}

// Compile runs the version-pinned compiler against source, returning the
// compiled JS. Per spec, a CompileError never fails the request upstream —
// callers are expected to fall back to serving the source untransformed.
func (r *Registry) Compile(ctx context.Context, version string, src string, opts Options) (Result, error) {
	rt, err := r.load(ctx, version)
	if err != nil {
		return Result{}, fmt.Errorf("%w: loading compiler %s: %v", cdnerr.CompileError, version, err)
	}

	qctx := rt.Context()
	script := fmt.Sprintf(`
		import * as mod from %q;
		const compileFn = typeof mod.compile === 'function' ? mod.compile : mod.default.compile;
		const result = compileFn(%s, %s);
		export default JSON.stringify({ code: result.js ? result.js.code : result.code });
	`, "compiler@"+version, jsString(src), jsOptions(opts))

	val, err := qctx.Eval("__cdndepot_compile__.js", qjs.Code(script), qjs.TypeModule())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", cdnerr.CompileError, version, err)
	}
	defer val.Free()

	return Result{Code: val.String()}, nil
}

// load returns the runtime for version, loading its module source and
// bootstrapping a fresh QuickJS runtime exactly once.
func (r *Registry) load(ctx context.Context, version string) (*qjs.Runtime, error) {
	r.mu.Lock()
	t, ok := r.thunks[version]
	if !ok {
		t = &thunk{}
		r.thunks[version] = t
	}
	r.mu.Unlock()

	t.once.Do(func() {
		src, err := r.source(ctx, version)
		if err != nil {
			t.err = err
			return
		}
		rt, err := qjs.New(qjs.Option{MemoryLimit: 64 * 1024 * 1024, MaxExecutionTime: 10000})
		if err != nil {
			t.err = fmt.Errorf("creating runtime: %w", err)
			return
		}
		qctx := rt.Context()
		val, err := qctx.Load("compiler@"+version, qjs.Code(src))
		if err != nil {
			rt.Close()
			t.err = fmt.Errorf("loading module: %w", err)
			return
		}
		val.Free()
		t.rt = rt
	})
	return t.rt, t.err
}

// Close releases every loaded compiler runtime.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.thunks {
		if t.rt != nil {
			t.rt.Close()
		}
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsOptions(o Options) string {
	b, _ := json.Marshal(map[string]any{
		"name":     o.Name,
		"filename": o.Filename,
		"dev":      o.Dev,
	})
	return string(b)
}
