package plan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func samplePlan() *Plan {
	return New(
		Step{ToolName: "analyze", Description: "read the failing module"},
		Step{ToolName: "edit", Description: "fix the off-by-one", DependsOn: []int{0}},
		Step{ToolName: "test", Description: "run targeted tests", DependsOn: []int{1}},
	)
}

func TestCompleteNextStepMovesBoundary(t *testing.T) {
	p := samplePlan()
	if err := p.CompleteNextStep("found bad loop bound"); err != nil {
		t.Fatal(err)
	}
	if len(p.Completed) != 1 || len(p.Todo) != 2 {
		t.Fatalf("got completed=%d todo=%d", len(p.Completed), len(p.Todo))
	}
	if p.Completed[0].Status != StatusSuccess {
		t.Fatalf("status = %q", p.Completed[0].Status)
	}
}

// Serialized prefix up to the completed/todo boundary must never shrink or
// rewrite as steps complete.
func TestSerializePrefixMonotonicity(t *testing.T) {
	p := samplePlan()
	prevCompletedPrefix := ""
	for !p.Done() {
		s := p.Serialize()
		if !strings.HasPrefix(s, prevCompletedPrefix) {
			t.Fatalf("serialized form lost its completed prefix:\nprev:\n%s\nnow:\n%s", prevCompletedPrefix, s)
		}
		if err := p.CompleteNextStep("ok"); err != nil {
			t.Fatal(err)
		}
		// The new completed partition is the stable prefix for the next turn.
		lines := strings.SplitAfter(p.Serialize(), "\n")
		prevCompletedPrefix = strings.Join(lines[:len(p.Completed)], "")
	}
}

func TestFailNextStepKeepsErrorInPrefix(t *testing.T) {
	p := samplePlan()
	if err := p.FailNextStep("module does not exist"); err != nil {
		t.Fatal(err)
	}
	s := p.Serialize()
	if !strings.Contains(s, "[FAILURE]") || !strings.Contains(s, "module does not exist") {
		t.Fatalf("serialized plan missing failure annotation:\n%s", s)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	p := samplePlan()
	_ = p.CompleteNextStep("done")
	p.Metadata = map[string]string{"risk_level": "low"}

	b, err := p.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	// completed must serialize before todo.
	if ci, ti := strings.Index(string(b), `"completed"`), strings.Index(string(b), `"todo"`); ci < 0 || ti < 0 || ci > ti {
		t.Fatalf("key order wrong: %s", b)
	}
	got, err := Deserialize(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteNextStepOnEmptyPlan(t *testing.T) {
	p := New()
	if err := p.CompleteNextStep("x"); err == nil {
		t.Fatal("expected error on empty plan")
	}
}
