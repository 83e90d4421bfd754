package testrun

import (
	"strings"
	"testing"
)

func TestParsePytestFailure(t *testing.T) {
	out := `============================= test session starts ==============================
collected 3 items

tests/test_calc.py .F.                                                   [100%]

=================================== FAILURES ===================================
_________________________________ test_add _____________________________________

    def test_add():
>       assert add(2, 2) == 5
E       assert 4 == 5

tests/test_calc.py:4: AssertionError
=========================== short test summary info ============================
FAILED tests/test_calc.py::test_add - assert 4 == 5
========================= 1 failed, 2 passed in 0.12s ==========================
`
	rep := parsePytest(out)
	if rep.Success || rep.Passed != 2 || rep.Failed != 1 || rep.Total != 3 {
		t.Fatalf("report = %+v", rep)
	}
	f := rep.FirstFailure()
	if f == nil || f.Name != "test_add" || f.File != "tests/test_calc.py" {
		t.Fatalf("failure = %+v", f)
	}
	if f.Message != "assert 4 == 5" {
		t.Fatalf("message = %q", f.Message)
	}
	if !strings.Contains(f.Snippet, "FAILED tests/test_calc.py::test_add") {
		t.Fatalf("snippet = %q", f.Snippet)
	}
}

func TestParsePytestAllPassing(t *testing.T) {
	rep := parsePytest("........\n8 passed in 1.02s\n")
	if !rep.Success || rep.Passed != 8 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestParseJestSummary(t *testing.T) {
	out := `FAIL src/widget.test.js
  ✕ renders without crashing (23 ms)
  ✓ handles clicks (4 ms)

Tests:       1 failed, 2 passed, 3 total
Snapshots:   0 total
Time:        1.5 s
`
	rep := parseJest(out)
	if rep.Success || rep.Failed != 1 || rep.Passed != 2 || rep.Total != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if f := rep.FirstFailure(); f == nil || !strings.Contains(f.Name, "renders without crashing") {
		t.Fatalf("failure = %+v", rep.Failures)
	}
}

func TestParseGoJSONStream(t *testing.T) {
	out := `{"Action":"run","Package":"example.com/m/pkg","Test":"TestAdd"}
{"Action":"output","Package":"example.com/m/pkg","Test":"TestAdd","Output":"    calc_test.go:10: got 4, want 5\n"}
{"Action":"fail","Package":"example.com/m/pkg","Test":"TestAdd"}
{"Action":"pass","Package":"example.com/m/pkg","Test":"TestSub"}
{"Action":"skip","Package":"example.com/m/pkg","Test":"TestMul"}
{"Action":"fail","Package":"example.com/m/pkg"}
`
	rep := parseGoJSON(out)
	if rep.Success || rep.Passed != 1 || rep.Failed != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	f := rep.FirstFailure()
	if f == nil || f.Name != "TestAdd" {
		t.Fatalf("failure = %+v", f)
	}
	if !strings.Contains(f.Snippet, "got 4, want 5") {
		t.Fatalf("snippet = %q", f.Snippet)
	}
}

func TestParseCargo(t *testing.T) {
	out := `running 2 tests
test tests::adds ... ok
test tests::subs ... FAILED

---- tests::subs stdout ----
thread 'tests::subs' panicked at 'assertion failed'

test result: FAILED. 1 passed; 1 failed; 0 ignored; 0 measured
`
	rep := parseCargo(out)
	if rep.Success || rep.Passed != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if f := rep.FirstFailure(); f == nil || f.Name != "tests::subs" || !strings.Contains(f.Snippet, "panicked") {
		t.Fatalf("failure = %+v", rep.FirstFailure())
	}
}

func TestParseMocha(t *testing.T) {
	rep := parseMocha("  5 passing (40ms)\n  1 failing\n")
	if rep.Success || rep.Passed != 5 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSnippetAroundBounds(t *testing.T) {
	out := "a\nb\nmarker here\nc\nd\n"
	got := snippetAround(out, "marker")
	if !strings.HasPrefix(got, "a\n") || !strings.Contains(got, "marker here") {
		t.Fatalf("snippet = %q", got)
	}
	if snippetAround(out, "absent") != "" {
		t.Fatal("missing marker should yield empty snippet")
	}
}
