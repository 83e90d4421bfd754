// Package orchestrator drives one code-modification task through the
// INGEST → PLAN → EDIT → TEST loop, delegating to the context, patch, policy
// and test-runner engines and bounding every turn with the task's limits.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/index"
	"github.com/vsavkov/patchloop/internal/llm"
	"github.com/vsavkov/patchloop/internal/modeladapter"
	"github.com/vsavkov/patchloop/internal/patch"
	"github.com/vsavkov/patchloop/internal/plan"
	"github.com/vsavkov/patchloop/internal/policy"
	"github.com/vsavkov/patchloop/internal/sandbox"
	"github.com/vsavkov/patchloop/internal/testrun"
	"github.com/vsavkov/patchloop/internal/trace"
)

// QueryOnlySentinel is the final diff of a run that needed no code change.
const QueryOnlySentinel = "# No changes needed for query"

// Limits bound one task's resource use.
type Limits struct {
	MaxRetries  int
	MaxDuration time.Duration
	MaxTokens   int
}

func DefaultLimits() Limits {
	return Limits{MaxRetries: 5, MaxDuration: 30 * time.Minute, MaxTokens: 200_000}
}

// Task is the input of a single run.
type Task struct {
	ID          string
	WorkDir     string
	Goal        string
	Constraints []string
	Priority    int
	DependsOn   []string
	Limits      Limits
}

// NewTask fills in an id and default limits.
func NewTask(workDir, goal string) Task {
	return Task{
		ID:      ulid.Make().String(),
		WorkDir: workDir,
		Goal:    goal,
		Limits:  DefaultLimits(),
	}
}

// taskContext is the mutable state threaded through the FSM. Created once
// per task, mutated only by state handlers, gone once the report is built.
type taskContext struct {
	State          State
	Plan           *modeladapter.PlanSpec
	ExecPlan       *plan.Plan
	ProposedDiff   string
	AppliedPatches []string
	TestReport     *testrun.Report
	StateDurations map[State]time.Duration
	RetryCount     int
	TokenUsage     int
	StartTime      time.Time
	Artifacts      map[string]any

	// per-turn flags consumed by the transition rules
	diffApplied  bool
	testsPassing bool
	retryCharged bool
	iteration    int
}

// Report is what the FSM returns on termination.
type Report struct {
	TaskID         string                  `json:"task_id"`
	Goal           string                  `json:"goal"`
	Status         string                  `json:"status"`
	Duration       time.Duration           `json:"duration"`
	StateDurations map[State]time.Duration `json:"state_durations"`
	RetryCount     int                     `json:"retry_count"`
	TokenUsage     int                     `json:"token_usage"`
	FinalState     State                   `json:"final_state"`
	Artifacts      map[string]any          `json:"artifacts"`
}

// ModelAdapter is the slice of the model adapter the FSM depends on.
type ModelAdapter interface {
	CreatePlan(ctx context.Context, goal, retrieval string, constraints []string) (*modeladapter.PlanSpec, llm.Usage, error)
	ProposePatch(ctx context.Context, p *modeladapter.PlanSpec, retrieval string, previousAttempts []string) (string, llm.Usage, error)
	SuggestRepair(ctx context.Context, failureContext string, previousAttempts []string, p *modeladapter.PlanSpec) (*modeladapter.Repair, llm.Usage, error)
}

// Deps are the collaborators a task runs against.
type Deps struct {
	Adapter  ModelAdapter
	Sandbox  sandbox.Sandbox
	Policy   *policy.Engine
	Log      *zap.Logger
	TraceDir string

	// now is replaceable in tests.
	Now func() time.Time
}

type Orchestrator struct {
	task    Task
	deps    Deps
	ctx     *taskContext
	idx     *index.Engine
	patches *patch.Engine
	runner  *testrun.Runner
	trace   *trace.Collector
	events  *trace.ProgressWriter
	log     *zap.Logger
}

func New(task Task, deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if task.Limits == (Limits{}) {
		task.Limits = DefaultLimits()
	}
	if task.ID == "" {
		task.ID = ulid.Make().String()
	}
	o := &Orchestrator{
		task:  task,
		deps:  deps,
		trace: trace.NewCollector(),
		log:   deps.Log.With(zap.String("task_id", task.ID)),
	}
	if deps.TraceDir != "" {
		o.events = trace.NewProgressWriter(deps.TraceDir)
	}
	return o
}

func (o *Orchestrator) elapsed() time.Duration {
	return o.deps.Now().Sub(o.ctx.StartTime)
}

// Run executes the FSM until a terminal state and returns the report.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	o.ctx = &taskContext{
		State:          StateIngest,
		StateDurations: map[State]time.Duration{},
		StartTime:      o.deps.Now(),
		Artifacts:      map[string]any{},
	}

	var visited []State
	for {
		state := o.ctx.State
		visited = append(visited, state)
		o.emit("state_enter", map[string]any{"state": string(state)})

		start := o.deps.Now()
		span := o.trace.Begin("orchestrator", "state_"+strings.ToLower(string(state)), nil)
		err := o.handle(ctx, state)
		span.End(err)
		o.ctx.StateDurations[state] += o.deps.Now().Sub(start)

		if err != nil {
			o.log.Warn("state handler failed", zap.String("state", string(state)), zap.Error(err))
			o.ctx.Artifacts["error"] = err.Error()
		}
		if state.Terminal() {
			break
		}
		o.ctx.State = o.nextState(err)
	}

	o.ctx.Artifacts["visited_states"] = statesToStrings(visited)
	rep := &Report{
		TaskID:         o.task.ID,
		Goal:           o.task.Goal,
		Status:         stringArtifact(o.ctx.Artifacts, "status"),
		Duration:       o.elapsed(),
		StateDurations: o.ctx.StateDurations,
		RetryCount:     o.ctx.RetryCount,
		TokenUsage:     o.ctx.TokenUsage,
		FinalState:     o.ctx.State,
		Artifacts:      o.ctx.Artifacts,
	}
	if o.deps.TraceDir != "" {
		if err := o.trace.Save(o.deps.TraceDir + "/trace_" + o.task.ID + ".json"); err != nil {
			o.log.Warn("trace save failed", zap.Error(err))
		}
	}
	o.emit("task_end", map[string]any{"status": rep.Status, "final_state": string(rep.FinalState)})
	return rep
}

func (o *Orchestrator) handle(ctx context.Context, state State) error {
	switch state {
	case StateIngest:
		return o.handleIngest(ctx)
	case StatePlan:
		return o.handlePlan(ctx)
	case StateEdit:
		return o.handleEdit(ctx)
	case StateTest:
		return o.handleTest(ctx)
	case StateIterate:
		return o.handleIterate(ctx)
	case StateDone:
		o.handleDone()
		return nil
	case StateAbort:
		o.handleAbort()
		return nil
	default:
		return fmt.Errorf("unknown state %s", state)
	}
}

func (o *Orchestrator) emit(event string, extra map[string]any) {
	if o.events == nil {
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["task_id"] = o.task.ID
	if err := o.events.Emit(event, extra); err != nil {
		o.log.Debug("progress emit failed", zap.Error(err))
	}
}

func (o *Orchestrator) addUsage(u llm.Usage) {
	o.ctx.TokenUsage += u.TotalTokens
}

func stringArtifact(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func statesToStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
