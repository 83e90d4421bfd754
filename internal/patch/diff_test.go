package patch

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const simpleDiff = `--- a/pkg/math.py
+++ b/pkg/math.py
@@ -3,4 +3,4 @@
 def add(a, b):
-    return a - b
+    return a + b
 def sub(a, b):
     return a - b
`

func TestParseSimpleDiff(t *testing.T) {
	patches, err := Parse(simpleDiff)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 {
		t.Fatalf("patches = %d", len(patches))
	}
	fp := patches[0]
	if fp.OriginalFile != "pkg/math.py" || fp.ModifiedFile != "pkg/math.py" {
		t.Fatalf("paths = %q %q", fp.OriginalFile, fp.ModifiedFile)
	}
	if len(fp.Hunks) != 1 {
		t.Fatalf("hunks = %d", len(fp.Hunks))
	}
	h := fp.Hunks[0]
	if h.OriginalStart != 3 || h.OriginalCount != 4 {
		t.Fatalf("range = %d,%d", h.OriginalStart, h.OriginalCount)
	}
	if diff := cmp.Diff([]string{"    return a - b"}, h.Removals); diff != "" {
		t.Fatalf("removals (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"    return a + b"}, h.Additions); diff != "" {
		t.Fatalf("additions (-want +got):\n%s", diff)
	}
	if len(h.ContextBefore) != 1 || len(h.ContextAfter) != 2 {
		t.Fatalf("context = %d/%d", len(h.ContextBefore), len(h.ContextAfter))
	}
}

func TestParseCreateAndDelete(t *testing.T) {
	diff := `--- /dev/null
+++ b/newfile.txt
@@ -0,0 +1,2 @@
+hello
+world
--- a/gone.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-obsolete
`
	patches, err := Parse(diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 2 {
		t.Fatalf("patches = %d", len(patches))
	}
	if !patches[0].IsCreate() || patches[0].TargetPath() != "newfile.txt" {
		t.Fatalf("first patch: %+v", patches[0])
	}
	if !patches[1].IsDelete() || patches[1].TargetPath() != "gone.txt" {
		t.Fatalf("second patch: %+v", patches[1])
	}
}

func TestParseIndexLineCarriesHash(t *testing.T) {
	diff := "index 0123456789abcdef..fedcba9876543210\n" + simpleDiff
	patches, err := Parse(diff)
	if err != nil {
		t.Fatal(err)
	}
	if patches[0].OriginalHash != "0123456789abcdef" {
		t.Fatalf("hash = %q", patches[0].OriginalHash)
	}
}

func TestParseIgnoresGitIndexHashes(t *testing.T) {
	// git SHA-1 prefixes (abbreviated or full) are not our hash scheme and
	// must not become OriginalHash.
	for _, line := range []string{
		"index 1234abc..5678def\n",
		"index 1234abc..5678def 100644\n",
		"index da39a3ee5e6b4b0d3255bfef95601890afd80709..0000000000000000000000000000000000000000\n",
		"index 0123456789ABCDEF..fedcba9876543210\n",
	} {
		patches, err := Parse(line + simpleDiff)
		if err != nil {
			t.Fatal(err)
		}
		if patches[0].OriginalHash != "" {
			t.Fatalf("%q captured hash %q", line, patches[0].OriginalHash)
		}
	}
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	for _, in := range []string{"", "just some prose\nwith lines\n", "+++ b/x\n"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected parse error for %q", in)
		}
	}
}

func TestRenderRoundTrip(t *testing.T) {
	patches, err := Parse(simpleDiff)
	if err != nil {
		t.Fatal(err)
	}
	rendered := Render(patches)
	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, rendered)
	}
	if diff := cmp.Diff(patches, reparsed); diff != "" {
		t.Fatalf("round trip mismatch (-first +second):\n%s", diff)
	}
}

func TestOmittedCountsDefaultToOne(t *testing.T) {
	diff := `--- a/x
+++ b/x
@@ -5 +5 @@
-old
+new
`
	patches, err := Parse(diff)
	if err != nil {
		t.Fatal(err)
	}
	h := patches[0].Hunks[0]
	if h.OriginalCount != 1 || h.ModifiedCount != 1 {
		t.Fatalf("counts = %d,%d", h.OriginalCount, h.ModifiedCount)
	}
}

func TestModifiedRange(t *testing.T) {
	h := Hunk{ModifiedStart: 10, ModifiedCount: 3}
	lo, hi := h.ModifiedRange()
	if lo != 10 || hi != 12 {
		t.Fatalf("range = %d..%d", lo, hi)
	}
	del := Hunk{ModifiedStart: 4, ModifiedCount: 0}
	lo, hi = del.ModifiedRange()
	if lo != 4 || hi != 4 {
		t.Fatalf("deletion range = %d..%d", lo, hi)
	}
}

func TestRenderAbsolutePathsPreserved(t *testing.T) {
	patches := []FilePatch{{OriginalFile: "/tmp/abs.txt", ModifiedFile: "/tmp/abs.txt", Hunks: []Hunk{{OriginalStart: 1, OriginalCount: 1, ModifiedStart: 1, ModifiedCount: 1, Removals: []string{"a"}, Additions: []string{"b"}}}}}
	out := Render(patches)
	if !strings.Contains(out, "--- /tmp/abs.txt") {
		t.Fatalf("absolute path mangled:\n%s", out)
	}
}
