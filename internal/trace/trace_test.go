package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectorBuildsNestedTree(t *testing.T) {
	c := NewCollector()
	outer := c.Begin("orchestrator", "run_state", map[string]any{"state": "EDIT"})
	inner := c.Begin("patch", "apply", nil)
	inner.End(nil)
	failed := c.Begin("llm", "complete", nil)
	failed.End(errors.New("boom"))
	outer.End(nil)

	path := filepath.Join(t.TempDir(), "trace.json")
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		SessionID  string `json:"session_id"`
		TotalCalls int    `json:"total_calls"`
		CallStack  []Call `json:"call_stack"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.SessionID == "" || doc.TotalCalls != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	if len(doc.CallStack) != 1 || len(doc.CallStack[0].Children) != 2 {
		t.Fatalf("tree shape = %+v", doc.CallStack)
	}
	llmCall := doc.CallStack[0].Children[1]
	if llmCall.Error != "boom" || llmCall.StackTrace == "" {
		t.Fatalf("failed call = %+v", llmCall)
	}
	if doc.CallStack[0].Children[0].Error != "" {
		t.Fatal("clean call carries an error")
	}
}

func TestPlanSnapshotKeyOrderAndStability(t *testing.T) {
	dir := t.TempDir()
	plan := map[string]any{"steps": []string{"a", "b"}}
	if err := WritePlanSnapshot(dir, 1, "fix the bug", plan); err != nil {
		t.Fatal(err)
	}
	if err := WritePlanSnapshot(dir, 2, "fix the bug", plan); err != nil {
		t.Fatal(err)
	}
	b1, err := os.ReadFile(filepath.Join(dir, "plan_snapshot_001.json"))
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(filepath.Join(dir, "plan_snapshot_002.json"))
	if err != nil {
		t.Fatal(err)
	}
	// Identical plans must serialize byte-identically across iterations.
	if string(b1) != string(b2) {
		t.Fatalf("snapshots differ:\n%s\n---\n%s", b1, b2)
	}
	s := string(b1)
	goalIdx := strings.Index(s, `"goal"`)
	planIdx := strings.Index(s, `"plan"`)
	if goalIdx < 0 || planIdx < 0 || goalIdx > planIdx {
		t.Fatalf("key order wrong:\n%s", s)
	}
	if strings.Contains(s, "iteration") || strings.Contains(s, "timestamp") {
		t.Fatalf("snapshot carries cache-busting fields:\n%s", s)
	}
	var parsed map[string]any
	if err := json.Unmarshal(b1, &parsed); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
}

func TestProgressWriterAppendsNDJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewProgressWriter(dir)
	if err := w.Emit("state_enter", map[string]any{"state": "PLAN", "task_id": "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Emit("state_enter", map[string]any{"state": "EDIT", "task_id": "t1"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0]["state"] != "PLAN" || events[1]["state"] != "EDIT" {
		t.Fatalf("events = %+v", events)
	}
	if events[0]["ts"] == "" || events[0]["event"] != "state_enter" {
		t.Fatalf("event shape = %+v", events[0])
	}
}
