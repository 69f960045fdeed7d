package rewrite

import "sort"

// edit is one non-overlapping byte-range replacement.
type edit struct {
	start, end  int
	replacement string
}

// RangeEditor accumulates non-overlapping replacements against byte offsets
// into a source string and applies them in one pass, so that offsets
// collected during a single walk over the original text remain valid even
// though earlier edits change the text's length.
type RangeEditor struct {
	src   string
	edits []edit
}

// NewRangeEditor creates an editor over src.
func NewRangeEditor(src string) *RangeEditor {
	return &RangeEditor{src: src}
}

// Replace records that src[start:end] should become replacement.
func (e *RangeEditor) Replace(start, end int, replacement string) {
	e.edits = append(e.edits, edit{start: start, end: end, replacement: replacement})
}

// Apply renders the edited source, applying every recorded replacement in
// ascending start-offset order against the original, unedited offsets.
func (e *RangeEditor) Apply() string {
	if len(e.edits) == 0 {
		return e.src
	}
	sorted := make([]edit, len(e.edits))
	copy(sorted, e.edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var out []byte
	cursor := 0
	for _, ed := range sorted {
		if ed.start < cursor {
			continue // Overlapping edit against an already-consumed range: skip it.
		}
		out = append(out, e.src[cursor:ed.start]...)
		out = append(out, ed.replacement...)
		cursor = ed.end
	}
	out = append(out, e.src[cursor:]...)
	return string(out)
}
