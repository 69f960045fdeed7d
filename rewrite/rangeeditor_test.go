package rewrite

import "testing"

func TestRangeEditorAppliesNonOverlappingEdits(t *testing.T) {
	src := `import a from "./a.js"; import b from "./b.js";`
	e := NewRangeEditor(src)
	startA := indexOf(src, `"./a.js"`)
	e.Replace(startA, startA+len(`"./a.js"`), `"/npm/a@1.0.0/index.js"`)
	startB := indexOf(src, `"./b.js"`)
	e.Replace(startB, startB+len(`"./b.js"`), `"/npm/b@2.0.0/index.js"`)

	got := e.Apply()
	want := `import a from "/npm/a@1.0.0/index.js"; import b from "/npm/b@2.0.0/index.js";`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRangeEditorNoEdits(t *testing.T) {
	e := NewRangeEditor("const x = 1;")
	if got := e.Apply(); got != "const x = 1;" {
		t.Fatalf("got %q", got)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
