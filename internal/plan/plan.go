// Package plan models the orchestrator's working plan: an ordered list of
// completed steps followed by an ordered list of pending steps. Serialization
// always emits completed entries before todo entries so that the serialized
// prefix only grows as steps complete, which keeps LLM prompt caches warm
// across iterations.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

type StepStatus string

const (
	StatusUnset   StepStatus = ""
	StatusSuccess StepStatus = "SUCCESS"
	StatusFailure StepStatus = "FAILURE"
)

type Step struct {
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Description  string         `json:"description,omitempty"`
	DependsOn    []int          `json:"depends_on,omitempty"`
	Result       string         `json:"result,omitempty"`
	Status       StepStatus     `json:"status,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

type Plan struct {
	Completed []Step            `json:"completed"`
	Todo      []Step            `json:"todo"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func New(steps ...Step) *Plan {
	return &Plan{Todo: steps}
}

// NextStep returns the first pending step, or nil when the plan is exhausted.
func (p *Plan) NextStep() *Step {
	if p == nil || len(p.Todo) == 0 {
		return nil
	}
	return &p.Todo[0]
}

// CompleteNextStep moves the first todo step into completed with the given
// result. Ordering within each partition is preserved, so the serialized
// prefix up to the completed/todo boundary is monotonically non-decreasing.
func (p *Plan) CompleteNextStep(result string) error {
	if p == nil || len(p.Todo) == 0 {
		return fmt.Errorf("plan has no pending steps")
	}
	st := p.Todo[0]
	st.Status = StatusSuccess
	st.Result = result
	p.Completed = append(p.Completed, st)
	p.Todo = p.Todo[1:]
	return nil
}

// FailNextStep marks the first todo step failed and moves it to completed so
// the failure stays in the stable prefix for subsequent prompts.
func (p *Plan) FailNextStep(errMsg string) error {
	if p == nil || len(p.Todo) == 0 {
		return fmt.Errorf("plan has no pending steps")
	}
	st := p.Todo[0]
	st.Status = StatusFailure
	st.ErrorMessage = errMsg
	p.Completed = append(p.Completed, st)
	p.Todo = p.Todo[1:]
	return nil
}

func (p *Plan) Done() bool {
	return p == nil || len(p.Todo) == 0
}

// Serialize renders the plan as line-oriented text, completed before todo.
// The format is deliberately append-only: completing a step only moves the
// boundary marker down, never rewrites an already-emitted completed line.
func (p *Plan) Serialize() string {
	var b strings.Builder
	for i, st := range p.Completed {
		writeStepLine(&b, i+1, st)
	}
	for i, st := range p.Todo {
		writeStepLine(&b, len(p.Completed)+i+1, st)
	}
	return b.String()
}

func writeStepLine(b *strings.Builder, n int, st Step) {
	status := string(st.Status)
	if status == "" {
		status = "PENDING"
	}
	desc := st.Description
	if desc == "" {
		desc = st.ToolName
	}
	fmt.Fprintf(b, "%d. [%s] %s", n, status, desc)
	if st.Result != "" {
		fmt.Fprintf(b, " -> %s", firstLine(st.Result))
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(b, " !! %s", firstLine(st.ErrorMessage))
	}
	b.WriteString("\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// MarshalJSON emits completed before todo. Struct field order already
// guarantees this for the stdlib encoder; the method exists to keep the
// invariant explicit and stable under refactors.
func (p *Plan) MarshalJSON() ([]byte, error) {
	type alias Plan
	return json.Marshal((*alias)(p))
}

func Deserialize(b []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
