package modeladapter

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vsavkov/patchloop/internal/llm"
)

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	responses []llm.Response
	requests  []llm.Request
}

func (s *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &llm.Response{}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &resp, nil
}

func TestCreatePlanParsesWellFormedJSON(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{
		Content: "```json\n" + `{"steps":[{"id":"s1","description":"fix add","action":"edit","files":["calc.py"]}],"risk_level":"low","dependencies":{"add":["pytest"]},"test_strategy":"targeted"}` + "\n```",
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}}}
	a := New(client, nil)

	plan, usage, err := a.CreatePlan(context.Background(), "fix the add function", "calc.py: ...", []string{"no new files"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "edit" {
		t.Fatalf("plan = %+v", plan)
	}
	if diff := cmp.Diff([]string{"pytest"}, plan.Dependencies.Add); diff != "" {
		t.Fatalf("deps (-want +got):\n%s", diff)
	}
	if usage.TotalTokens != 150 {
		t.Fatalf("usage = %+v", usage)
	}
	if !strings.Contains(client.requests[0].Messages[1].Content, "no new files") {
		t.Fatal("constraints missing from prompt")
	}
}

func TestCreatePlanFallsBackOnGarbage(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Content: "I think you should just rewrite it."}}}
	plan, usage, err := New(client, nil).CreatePlan(context.Background(), "fix it", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "analyze" {
		t.Fatalf("fallback plan = %+v", plan)
	}
	// No server usage: estimated from characters.
	if usage.TotalTokens == 0 {
		t.Fatal("usage estimate missing")
	}
}

func TestProposePatchExtractsFencedDiff(t *testing.T) {
	content := "Here is the change:\n```diff\n--- a/calc.py\n+++ b/calc.py\n@@ -1,1 +1,1 @@\n-x = 1\n+x = 2\n```\nThat should do it."
	client := &scriptedClient{responses: []llm.Response{{Content: content}}}
	plan := &PlanSpec{Steps: []PlanStep{{ID: "s1", Action: "edit", Description: "bump x"}}}

	diff, _, err := New(client, nil).ProposePatch(context.Background(), plan, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(diff, "--- a/calc.py\n") {
		t.Fatalf("diff = %q", diff)
	}
	if strings.Contains(diff, "That should do it") {
		t.Fatalf("prose leaked into diff: %q", diff)
	}
}

func TestProposePatchReturnsProseUnchanged(t *testing.T) {
	prose := "The function already handles that case correctly; no change is needed."
	client := &scriptedClient{responses: []llm.Response{{Content: prose}}}
	plan := &PlanSpec{Steps: []PlanStep{{ID: "s1", Action: "analyze", Description: "check"}}}

	out, _, err := New(client, nil).ProposePatch(context.Background(), plan, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != prose {
		t.Fatalf("out = %q", out)
	}
}

func TestProposePatchCarriesHistory(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Content: "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n"}}}
	plan := &PlanSpec{Steps: []PlanStep{{ID: "s1", Action: "edit", Description: "x"}}}
	_, _, err := New(client, nil).ProposePatch(context.Background(), plan, "", []string{"--- previous diff ---"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(client.requests[0].Messages[1].Content, "Previous attempt 1") {
		t.Fatal("history missing from prompt")
	}
}

func TestSuggestRepairParsesAndFallsBack(t *testing.T) {
	plan := &PlanSpec{Steps: []PlanStep{{ID: "s1", Action: "edit", Description: "x"}}}

	good := &scriptedClient{responses: []llm.Response{{
		Content: `{"analysis":"off by one","repair_strategy":"adjust the loop bound","confidence":0.8}`,
	}}}
	rep, _, err := New(good, nil).SuggestRepair(context.Background(), "test_add failed", nil, plan)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RepairStrategy != "adjust the loop bound" || rep.Confidence != 0.8 {
		t.Fatalf("repair = %+v", rep)
	}

	bad := &scriptedClient{responses: []llm.Response{{Content: "hmm, not sure"}}}
	rep, _, err = New(bad, nil).SuggestRepair(context.Background(), "test_add failed", nil, plan)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Confidence >= 0.5 {
		t.Fatalf("fallback confidence = %v", rep.Confidence)
	}
	if diff := cmp.Diff(plan, rep.ModifiedPlan); diff != "" {
		t.Fatalf("fallback should echo the plan (-want +got):\n%s", diff)
	}
}

func TestExtractJSONBalancedObject(t *testing.T) {
	in := `prefix {"a": {"b": "}"}, "c": 1} suffix`
	got := ExtractJSON(in)
	if got != `{"a": {"b": "}"}, "c": 1}` {
		t.Fatalf("got %q", got)
	}
	if ExtractJSON("no object here") != "" {
		t.Fatal("expected empty for no object")
	}
}

func TestExtractDiffBareHeaders(t *testing.T) {
	in := "Sure!\n--- a/f.py\n+++ b/f.py\n@@ -1 +1 @@\n-a\n+b\n"
	got := ExtractDiff(in)
	if !strings.HasPrefix(got, "--- a/f.py") {
		t.Fatalf("got %q", got)
	}
}
