package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vsavkov/patchloop/internal/hashutil"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}

func readFile(t *testing.T, abs string) string {
	t.Helper()
	b, err := os.ReadFile(abs)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

const mathSrc = `import math

def add(a, b):
    return a - b

def sub(a, b):
    return a - b
`

func TestApplyExactMatch(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "pkg/math.py", mathSrc)
	e := NewEngine(root, nil)

	diff := `--- a/pkg/math.py
+++ b/pkg/math.py
@@ -3,2 +3,2 @@
 def add(a, b):
-    return a - b
+    return a + b
`
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() || len(res.Applied) != 1 {
		t.Fatalf("result: %+v", res)
	}
	got := readFile(t, abs)
	if !strings.Contains(got, "return a + b") {
		t.Fatalf("content not patched:\n%s", got)
	}
	// sub must keep its body.
	if strings.Count(got, "return a - b") != 1 {
		t.Fatalf("unexpected content:\n%s", got)
	}
}

func TestApplyFuzzyMatchOnReindentedFile(t *testing.T) {
	root := t.TempDir()
	// Same lines, different leading whitespace, and shifted two lines down.
	shifted := "# header\n# header2\n" + strings.ReplaceAll(mathSrc, "    return", "\treturn")
	abs := writeFile(t, root, "pkg/math.py", shifted)
	e := NewEngine(root, nil)

	diff := `--- a/pkg/math.py
+++ b/pkg/math.py
@@ -3,2 +3,2 @@
 def add(a, b):
-    return a - b
+    return a + b
`
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("rejects: %+v", res.Rejects)
	}
	if len(res.Notes) == 0 || !strings.Contains(res.Notes[0], "fuzzy match") {
		t.Fatalf("expected fuzzy-match note, got %v", res.Notes)
	}
	if !strings.Contains(readFile(t, abs), "return a + b") {
		t.Fatal("fuzzy apply did not rewrite the body")
	}
}

func TestApplyRejectLeavesFileUntouched(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "a.txt", "one\ntwo\nthree\n")
	e := NewEngine(root, nil)

	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,2 +1,2 @@
 completely
-unrelated
+context
@@ -3,1 +3,1 @@
-three
+drei
`
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() || res.FailedHunks != 1 {
		t.Fatalf("result: %+v", res)
	}
	// Atomic per-file apply: even the matchable hunk must not land.
	if got := readFile(t, abs); got != "one\ntwo\nthree\n" {
		t.Fatalf("file mutated despite reject:\n%s", got)
	}
	if len(e.OriginalContents()) != 0 {
		t.Fatal("snapshot recorded for an unmodified file")
	}
}

func TestApplyDescendingHunkOrder(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "list.txt", "l1\nl2\nl3\nl4\nl5\nl6\n")
	e := NewEngine(root, nil)

	// Two hunks given in ascending order; the engine must apply bottom-up so
	// the first hunk's line numbers stay valid.
	diff := `--- a/list.txt
+++ b/list.txt
@@ -2,1 +2,2 @@
-l2
+l2
+l2b
@@ -5,1 +6,1 @@
-l5
+l5x
`
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("rejects: %+v", res.Rejects)
	}
	want := "l1\nl2\nl2b\nl3\nl4\nl5x\nl6\n"
	if got := readFile(t, abs); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestApplyCreateAndDelete(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "old.txt", "bye\n")
	e := NewEngine(root, nil)

	diff := `--- /dev/null
+++ b/sub/new.txt
@@ -0,0 +1,2 @@
+hello
+world
--- a/old.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-bye
`
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("rejects: %+v", res.Rejects)
	}
	if got := readFile(t, filepath.Join(root, "sub/new.txt")); got != "hello\nworld" {
		t.Fatalf("created content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Fatal("old.txt still exists")
	}
}

func TestRollbackRestoresSnapshots(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "pkg/math.py", mathSrc)
	e := NewEngine(root, nil)

	diff := `--- a/pkg/math.py
+++ b/pkg/math.py
@@ -3,2 +3,2 @@
 def add(a, b):
-    return a - b
+    return a + b
--- /dev/null
+++ b/made.txt
@@ -0,0 +1,1 @@
+ephemeral
`
	if res, err := e.Apply(diff); err != nil || !res.OK() {
		t.Fatalf("apply: %v %+v", err, res)
	}
	if err := e.Rollback(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, abs); got != mathSrc {
		t.Fatalf("rollback mismatch:\n%s", got)
	}
	if _, err := os.Stat(filepath.Join(root, "made.txt")); !os.IsNotExist(err) {
		t.Fatal("created file survived rollback")
	}
	// Idempotent.
	if err := e.Rollback(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateHashMismatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "actual content\n")
	e := NewEngine(root, nil)

	wrong := hashutil.ShortString("something else entirely")
	diff := "index " + wrong + "..0000000000000000\n" + `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-actual content
+other content
`
	v := e.Validate(diff)
	if v.Valid {
		t.Fatal("expected hash mismatch to invalidate")
	}
	if !strings.Contains(strings.Join(v.Errors, "\n"), "hash mismatch") {
		t.Fatalf("errors: %v", v.Errors)
	}
}

func TestValidateMatchingHashPasses(t *testing.T) {
	root := t.TempDir()
	content := "actual content\n"
	writeFile(t, root, "a.txt", content)
	e := NewEngine(root, nil)

	diff := "index " + hashutil.ShortString(content) + "..0000000000000000\n" + `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-actual content
+other content
`
	if v := e.Validate(diff); !v.Valid {
		t.Fatalf("errors: %v", v.Errors)
	}
}

func TestValidateAcceptsGitStyleIndexLine(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "def add(a, b):\n    return a + b\n")
	e := NewEngine(root, nil)

	// LLMs usually emit git-formatted diffs; the SHA-1 prefixes in the
	// index line must not be held against our blake3 hashes.
	diff := `index 1234abc..5678def
--- a/app.py
+++ b/app.py
@@ -1,2 +1,3 @@
 def add(a, b):
-    return a + b
+    total = a + b
+    return total
`
	if v := e.Validate(diff); !v.Valid {
		t.Fatalf("errors: %v", v.Errors)
	}
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("rejects: %v", res.Rejects)
	}
}

func TestValidateMissingTargetFails(t *testing.T) {
	e := NewEngine(t.TempDir(), nil)
	diff := `--- a/ghost.txt
+++ b/ghost.txt
@@ -1,1 +1,1 @@
-x
+y
`
	if v := e.Validate(diff); v.Valid {
		t.Fatal("expected missing-target validation failure")
	}
}

func TestValidateEmptyDiffFails(t *testing.T) {
	e := NewEngine(t.TempDir(), nil)
	v := e.Validate("")
	if v.Valid || len(v.Errors) == 0 {
		t.Fatalf("validation: %+v", v)
	}
}

func TestValidateLargeHunkWarns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "a\nb\n")
	e := NewEngine(root, nil)
	diff := `--- a/small.txt
+++ b/small.txt
@@ -1,2 +1,3 @@
-a
-b
+x
+y
+z
`
	v := e.Validate(diff)
	if !v.Valid {
		t.Fatalf("errors: %v", v.Errors)
	}
	if len(v.Warnings) == 0 {
		t.Fatal("expected oversized-hunk warning")
	}
}

func TestReapplyAfterSuccessIsRejectedNotDestructive(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "a.txt", "old line\nkeep\n")
	e := NewEngine(root, nil)
	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-old line
+new line
`
	if res, err := e.Apply(diff); err != nil || !res.OK() {
		t.Fatalf("first apply: %v %+v", err, res)
	}
	after := readFile(t, abs)
	// The removal target is gone, so the hunk rejects and the file stays as
	// the first apply left it.
	res, err := e.Apply(diff)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK() {
		t.Fatal("expected reapply to reject")
	}
	if got := readFile(t, abs); got != after {
		t.Fatalf("reapply mutated the file:\n%s", got)
	}
}

func TestFormatterDiffDetectsExternalEdit(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "a.txt", "one\ntwo\n")
	e := NewEngine(root, nil)
	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-one
+uno
`
	if res, err := e.Apply(diff); err != nil || !res.OK() {
		t.Fatalf("apply: %v %+v", err, res)
	}
	if got := e.FormatterDiff(); got != "" {
		t.Fatalf("unexpected formatter diff:\n%s", got)
	}
	// Simulate an out-of-band formatter rewriting the file.
	if err := os.WriteFile(abs, []byte("uno  \ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := e.FormatterDiff()
	if !strings.Contains(got, "+uno  ") || !strings.Contains(got, "-uno") {
		t.Fatalf("formatter diff missing change:\n%s", got)
	}
	if _, err := Parse(got); err != nil {
		t.Fatalf("formatter diff not reparseable: %v\n%s", err, got)
	}
}
