// Package trace records what a task did: a call tree persisted as JSON, a
// progress event stream, and plan snapshots written between iterations.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Call is one node of the call tree.
type Call struct {
	Timestamp  time.Time      `json:"timestamp"`
	Component  string         `json:"component"`
	Operation  string         `json:"operation"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMS int64          `json:"duration"`
	Error      string         `json:"error,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty"`
	ThreadID   string         `json:"thread_id"`
	Children   []*Call        `json:"children"`
}

// Collector accumulates the call tree for one task. Safe for use from the
// single task goroutine; the mutex guards the host reading mid-run.
type Collector struct {
	mu         sync.Mutex
	sessionID  string
	startTime  time.Time
	endTime    time.Time
	totalCalls int
	roots      []*Call
	open       []*Call
}

func NewCollector() *Collector {
	return &Collector{
		sessionID: ulid.Make().String(),
		startTime: time.Now().UTC(),
	}
}

func (c *Collector) SessionID() string { return c.sessionID }

// Span is an in-progress call; End closes it.
type Span struct {
	c    *Collector
	call *Call
}

// Begin opens a call nested under the innermost open span.
func (c *Collector) Begin(component, operation string, details map[string]any) *Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := &Call{
		Timestamp: time.Now().UTC(),
		Component: component,
		Operation: operation,
		Details:   details,
		ThreadID:  fmt.Sprintf("goroutine-%d", runtime.NumGoroutine()),
		Children:  []*Call{},
	}
	if len(c.open) > 0 {
		parent := c.open[len(c.open)-1]
		parent.Children = append(parent.Children, call)
	} else {
		c.roots = append(c.roots, call)
	}
	c.open = append(c.open, call)
	c.totalCalls++
	return &Span{c: c, call: call}
}

// End closes the span, recording the error (and a stack trace) when non-nil.
func (s *Span) End(err error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.call.DurationMS = time.Since(s.call.Timestamp).Milliseconds()
	if err != nil {
		s.call.Error = err.Error()
		buf := make([]byte, 4096)
		s.call.StackTrace = string(buf[:runtime.Stack(buf, false)])
	}
	for i := len(s.c.open) - 1; i >= 0; i-- {
		if s.c.open[i] == s.call {
			s.c.open = append(s.c.open[:i], s.c.open[i+1:]...)
			break
		}
	}
}

type traceDoc struct {
	SessionID  string    `json:"session_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	TotalCalls int       `json:"total_calls"`
	CallStack  []*Call   `json:"call_stack"`
}

// Save finalizes the collector and writes the trace document.
func (c *Collector) Save(path string) error {
	c.mu.Lock()
	c.endTime = time.Now().UTC()
	doc := traceDoc{
		SessionID:  c.sessionID,
		StartTime:  c.startTime,
		EndTime:    c.endTime,
		TotalCalls: c.totalCalls,
		CallStack:  c.roots,
	}
	c.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// TotalCalls reports how many calls have been opened so far.
func (c *Collector) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCalls
}
