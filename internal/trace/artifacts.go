package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WritePlanSnapshot writes the between-iterations plan snapshot. The
// top-level key order is fixed (goal, then plan) and the document carries no
// iteration counter or timestamp, so byte-identical plans produce
// byte-identical snapshots and upstream prompt caches stay warm.
func WritePlanSnapshot(dir string, iteration int, goal string, plan any) error {
	goalJSON, err := json.Marshal(goal)
	if err != nil {
		return err
	}
	planJSON, err := json.MarshalIndent(plan, "  ", "  ")
	if err != nil {
		return err
	}
	doc := fmt.Sprintf("{\n  \"goal\": %s,\n  \"plan\": %s\n}\n", goalJSON, planJSON)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("plan_snapshot_%03d.json", iteration)
	return os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644)
}

// ProgressWriter appends one JSON object per line to progress.ndjson.
type ProgressWriter struct {
	path string
}

func NewProgressWriter(dir string) *ProgressWriter {
	return &ProgressWriter{path: filepath.Join(dir, "progress.ndjson")}
}

func (w *ProgressWriter) Path() string { return w.path }

// Emit appends an event. Fields beyond ts/event come from extra.
func (w *ProgressWriter) Emit(event string, extra map[string]any) error {
	rec := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": event,
	}
	for k, v := range extra {
		rec[k] = v
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}
