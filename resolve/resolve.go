// Package resolve implements the package subpath resolver: mapping a
// manifest and a requested subpath to a concrete path relative to the
// installed package root, following npm's layered precedence of legacy
// component fields, conditional exports, legacy entry fields, and
// filesystem probing.
package resolve

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/a-h/cdndepot/registry"
)

// DataURLEmptyModule is returned when a manifest's browser field marks the
// package root as explicitly excluded from the browser build.
const DataURLEmptyModule = "data:text/javascript,export {}"

// conditions is the fixed, ordered set of export conditions this resolver
// evaluates, per spec: browser first (this is a browser-facing CDN), then
// the component-compiler condition, then production, then the universal
// fallback.
var conditions = []string{"browser", "svelte", "production", "default"}

// Resolve maps subpath to a concrete, installedPkgRoot-relative path
// ("./..."), or a data: URL when the package explicitly excludes it from
// browser builds. installedPkgRoot is the absolute filesystem directory
// containing the installed package (node_modules/<name>).
func Resolve(manifest *registry.Manifest, subpath, installedPkgRoot string) (string, error) {
	subpath = normalize(subpath)

	// 1. Legacy component field: only applies to the package root.
	if subpath == "." && manifest.Svelte != "" {
		return manifest.Svelte, nil
	}

	// 2. Modern conditional exports.
	if len(manifest.Exports) > 0 {
		if target, ok := resolveExports(manifest.Exports, subpath); ok {
			return target, nil
		}
		// No match: fall through silently, per spec.
	}

	// 3. Legacy entry fields, package root only.
	if subpath == "." {
		if target, ok, _ := resolveLegacyEntry(manifest); ok {
			return target, nil
		}
	}

	// 4. Filesystem probing for non-root subpaths that fell through.
	if subpath != "." {
		if target, ok := probeFilesystem(installedPkgRoot, subpath); ok {
			return target, nil
		}
	}

	// 5. Legacy browser map.
	if len(manifest.Browser) > 0 {
		if target, ok := resolveBrowserMap(manifest.Browser, subpath); ok {
			return target, nil
		}
	}

	// 6. Fallback.
	return subpath, nil
}

func normalize(subpath string) string {
	if subpath == "" {
		return "."
	}
	if subpath == "./" {
		return "."
	}
	return subpath
}

// resolveLegacyEntry reads browser, module, main in order for the package
// root. A browser field in object form is subpath-keyed; its "." entry (if
// any) wins, a literal false there means "inlined empty module", and a
// missing/nullish value falls back to module, then main.
func resolveLegacyEntry(manifest *registry.Manifest) (target string, ok bool, isDataURL bool) {
	if len(manifest.Browser) > 0 {
		var asString string
		if err := json.Unmarshal(manifest.Browser, &asString); err == nil && asString != "" {
			return asString, true, false
		}

		var asMap map[string]json.RawMessage
		if err := json.Unmarshal(manifest.Browser, &asMap); err == nil {
			if raw, present := asMap["."]; present {
				var b bool
				if err := json.Unmarshal(raw, &b); err == nil && !b {
					return DataURLEmptyModule, true, true
				}
				var s string
				if err := json.Unmarshal(raw, &s); err == nil && s != "" {
					return s, true, false
				}
			}
		}
	}
	if manifest.Module != "" {
		return manifest.Module, true, false
	}
	if manifest.Main != "" {
		return manifest.Main, true, false
	}
	return "", false, false
}

// resolveExports evaluates a manifest's exports field at subpath. Three
// shapes are supported: a subpath-keyed map ("." and "./sub/*" entries), or
// a bare conditions map (implicitly keyed at "."), or a plain string
// (implicitly the target for ".").
func resolveExports(raw json.RawMessage, subpath string) (string, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if subpath == "." {
			return asString, true
		}
		return "", false
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return "", false
	}
	if len(asMap) == 0 {
		return "", false
	}

	if isSubpathKeyed(asMap) {
		if raw, ok := asMap[subpath]; ok {
			return resolveConditions(raw)
		}
		// Wildcard entries: "./internal/*" -> "./src/internal/*.js".
		for key, raw := range asMap {
			prefix, hasStar := strings.CutSuffix(key, "*")
			if !hasStar || !strings.HasPrefix(subpath, prefix) {
				continue
			}
			remainder := strings.TrimPrefix(subpath, prefix)
			target, ok := resolveConditions(raw)
			if !ok {
				continue
			}
			return strings.Replace(target, "*", remainder, 1), true
		}
		return "", false
	}

	// Bare conditions map: only resolves the package root.
	if subpath != "." {
		return "", false
	}
	return resolveConditions(raw)
}

func isSubpathKeyed(m map[string]json.RawMessage) bool {
	for key := range m {
		if strings.HasPrefix(key, ".") {
			return true
		}
	}
	return false
}

// resolveConditions walks a conditions object (or a plain string/nested
// conditions object) looking for the first match in priority order.
func resolveConditions(raw json.RawMessage) (string, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, true
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return "", false
	}
	for _, cond := range conditions {
		next, ok := asMap[cond]
		if !ok {
			continue
		}
		if target, ok := resolveConditions(next); ok {
			return target, true
		}
	}
	return "", false
}

func resolveBrowserMap(raw json.RawMessage, subpath string) (string, bool) {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return "", false
	}
	val, ok := asMap[subpath]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(val, &s); err == nil && s != "" {
		return s, true
	}
	return "", false
}

// probeFilesystem tries, in order, subpath, subpath.mjs, subpath.js,
// subpath/index.mjs, subpath/index.js under installedPkgRoot, rejecting
// directories, and returns the first existing file relative to
// installedPkgRoot, prefixed with "./".
func probeFilesystem(installedPkgRoot, subpath string) (string, bool) {
	candidates := []string{
		subpath,
		subpath + ".mjs",
		subpath + ".js",
		path.Join(subpath, "index.mjs"),
		path.Join(subpath, "index.js"),
	}
	for _, c := range candidates {
		full := filepath.Join(installedPkgRoot, filepath.FromSlash(c))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		return "./" + strings.TrimPrefix(c, "./"), true
	}
	return "", false
}
