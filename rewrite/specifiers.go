package rewrite

import (
	"regexp"
	"sort"
)

// specifierPatterns match the four node kinds the AST Rewriter collects:
// static import, dynamic import, re-export, and export-all. Each pattern
// captures the quoted specifier in group 1 and exposes, via
// FindSubmatchIndex, the byte range of that captured group so a
// RangeEditor can patch just the specifier text, leaving quotes and
// surrounding syntax untouched.
//
// esbuild's public api package doesn't re-expose import-record byte
// offsets (those live in its internal, unimportable js_parser), so
// position-aware specifier discovery is hand-rolled here; esbuild itself
// is still used (see rewrite.go) to validate that the source parses before
// any of this runs.
var specifierPatterns = []*regexp.Regexp{
	// import ... from "x"; import "x";
	regexp.MustCompile(`\bimport\s+(?:[^'"]*?\sfrom\s+)?['"]([^'"]+)['"]`),
	// import("x")
	regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"]+)['"]\s*\)`),
	// export ... from "x"; export * from "x"; export * as ns from "x";
	regexp.MustCompile(`\bexport\s+(?:\*(?:\s+as\s+[A-Za-z_$][\w$]*)?|\{[^}]*\})\s+from\s+['"]([^'"]+)['"]`),
}

// specifierOccurrence is one discovered specifier and the byte range of its
// text (not including the surrounding quotes) within the source.
type specifierOccurrence struct {
	Specifier  string
	Start, End int
}

// scanSpecifiers walks src with every pattern and returns every occurrence
// found, in source order. Multiple occurrences of the same specifier text
// each get their own range, since each occupies a distinct import/export
// statement that needs its own rewrite.
func scanSpecifiers(src string) []specifierOccurrence {
	var out []specifierOccurrence
	for _, pattern := range specifierPatterns {
		for _, m := range pattern.FindAllStringSubmatchIndex(src, -1) {
			// m[2], m[3] are the start/end of capture group 1.
			out = append(out, specifierOccurrence{
				Specifier: src[m[2]:m[3]],
				Start:     m[2],
				End:       m[3],
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// isRelative reports whether specifier is a relative module path, as
// opposed to a bare package specifier.
func isRelative(specifier string) bool {
	return len(specifier) > 0 && (specifier[0] == '.' || specifier[0] == '/')
}
