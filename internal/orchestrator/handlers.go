package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/index"
	"github.com/vsavkov/patchloop/internal/patch"
	"github.com/vsavkov/patchloop/internal/plan"
	"github.com/vsavkov/patchloop/internal/policy"
	"github.com/vsavkov/patchloop/internal/testrun"
	"github.com/vsavkov/patchloop/internal/trace"
)

// Retrieval budgets per state, capped against the task's token limit so a
// small-budget task never spends its whole allowance on context.
const (
	planRetrievalCap = 10_000
	editRetrievalCap = 15_000
)

func (o *Orchestrator) handleIngest(ctx context.Context) error {
	info, err := os.Stat(o.task.WorkDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("working directory %s does not exist", o.task.WorkDir)
	}

	stack, err := o.deps.Sandbox.DetectStack(ctx, o.task.WorkDir)
	if err != nil {
		return fmt.Errorf("detect stack: %w", err)
	}
	o.ctx.Artifacts["stack"] = stack

	o.idx = index.NewEngine(o.task.WorkDir, o.log)
	if err := o.idx.IndexRepository(); err != nil {
		return fmt.Errorf("index repository: %w", err)
	}
	o.patches = patch.NewEngine(o.task.WorkDir, o.log)
	o.runner = testrun.NewRunner(o.task.WorkDir, o.deps.Sandbox, o.log)

	o.log.Info("ingest complete",
		zap.Strings("languages", stack.Languages),
		zap.Strings("test_frameworks", stack.TestFrameworks))
	return nil
}

func (o *Orchestrator) handlePlan(ctx context.Context) error {
	budget := min(planRetrievalCap, o.task.Limits.MaxTokens/3)
	retrieval := o.idx.Retrieve(o.task.Goal, budget).RenderPrompt()

	spec, usage, err := o.deps.Adapter.CreatePlan(ctx, o.task.Goal, retrieval, o.task.Constraints)
	o.addUsage(usage)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	check := policy.PlanCheck{
		AddDependencies:    spec.Dependencies.Add,
		RemoveDependencies: spec.Dependencies.Remove,
	}
	for _, st := range spec.Steps {
		check.Files = append(check.Files, st.Files...)
	}
	if res := o.deps.Policy.ValidatePlan(check); !res.IsValid {
		o.ctx.Artifacts["policy_result"] = res
		return fmt.Errorf("Policy violation: %s", strings.Join(res.Violations, "; "))
	}

	o.ctx.Plan = spec
	o.ctx.Artifacts["plan"] = spec

	steps := make([]plan.Step, 0, len(spec.Steps))
	for _, st := range spec.Steps {
		steps = append(steps, plan.Step{
			ToolName:    st.Action,
			Description: st.Description,
			Parameters:  map[string]any{"files": st.Files},
		})
	}
	o.ctx.ExecPlan = plan.New(steps...)

	o.snapshotPlan()
	o.emit("plan_created", map[string]any{"steps": len(spec.Steps), "risk": spec.RiskLevel})
	return nil
}

func (o *Orchestrator) handleEdit(ctx context.Context) error {
	o.ctx.diffApplied = false
	o.ctx.retryCharged = false
	// The last report described the previous attempt; if this attempt's
	// patch rejects, the repair context must come from the fresh rejects.
	o.ctx.TestReport = nil

	budget := min(editRetrievalCap, o.task.Limits.MaxTokens/2)
	retrieval := o.idx.Retrieve(o.task.Goal, budget).RenderPrompt()
	if repairCtx, ok := o.ctx.Artifacts["repair_context"].(string); ok && repairCtx != "" {
		retrieval += "\n\n## Previous failure\n" + repairCtx
	}

	out, usage, err := o.deps.Adapter.ProposePatch(ctx, o.ctx.Plan, retrieval, o.ctx.AppliedPatches)
	o.addUsage(usage)
	if err != nil {
		return fmt.Errorf("propose patch: %w", err)
	}
	o.ctx.ProposedDiff = out

	// A response with no diff structure answers the goal without touching
	// code: surface it and finish.
	trimmed := strings.TrimSpace(out)
	if trimmed == "" || !looksLikeDiff(trimmed) {
		o.ctx.Artifacts["query_only"] = true
		o.ctx.Artifacts["response"] = trimmed
		return nil
	}

	if res := o.deps.Policy.ValidateDiff(out); !res.IsValid {
		o.ctx.Artifacts["policy_result"] = res
		return fmt.Errorf("Policy violation: %s", strings.Join(res.Violations, "; "))
	}

	if v := o.patches.Validate(out); !v.Valid {
		o.rejectPatch("validation", v.Errors)
		return nil
	}
	res, err := o.patches.Apply(out)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	if !res.OK() {
		reasons := make([]string, 0, len(res.Rejects))
		for _, rej := range res.Rejects {
			reasons = append(reasons, fmt.Sprintf("%s hunk %d: %s", rej.File, rej.Hunk, rej.Reason))
		}
		o.rejectPatch("apply", reasons)
		return nil
	}

	o.ctx.diffApplied = true
	o.ctx.AppliedPatches = append(o.ctx.AppliedPatches, out)
	o.ctx.Artifacts["diffs"] = o.ctx.AppliedPatches
	entry := map[string]any{"diff": out, "files": res.Applied}
	if len(res.Notes) > 0 {
		entry["notes"] = res.Notes
	}
	applied, _ := o.ctx.Artifacts["applied_patches"].([]map[string]any)
	o.ctx.Artifacts["applied_patches"] = append(applied, entry)

	if o.ctx.ExecPlan != nil && o.ctx.ExecPlan.NextStep() != nil {
		_ = o.ctx.ExecPlan.CompleteNextStep("diff applied to " + strings.Join(res.Applied, ", "))
	}
	o.emit("patch_applied", map[string]any{"files": res.Applied, "notes": res.Notes})
	return nil
}

// looksLikeDiff requires both unified headers and at least a header pair
// plus one hunk line.
func looksLikeDiff(s string) bool {
	return strings.Count(s, "\n") >= 2 &&
		(strings.HasPrefix(s, "--- ") || strings.Contains(s, "\n--- ")) &&
		strings.Contains(s, "\n+++ ")
}

// rejectPatch records why a proposed diff never reached the working tree and
// charges the attempt against the retry budget.
func (o *Orchestrator) rejectPatch(stage string, reasons []string) {
	o.log.Warn("patch rejected", zap.String("stage", stage), zap.Strings("reasons", reasons))
	o.ctx.Artifacts["patch_rejects"] = reasons
	o.ctx.Artifacts["repair_context"] = fmt.Sprintf("patch %s failed: %s", stage, strings.Join(reasons, "; "))
	o.chargeRetry()
	o.emit("patch_rejected", map[string]any{"stage": stage, "reasons": reasons})
}

// chargeRetry increments the retry counter at most once per EDIT attempt.
func (o *Orchestrator) chargeRetry() {
	if o.ctx.retryCharged {
		return
	}
	o.ctx.RetryCount++
	o.ctx.retryCharged = true
}

func (o *Orchestrator) handleTest(ctx context.Context) error {
	imp, err := o.idx.AnalyzeChanges(o.ctx.ProposedDiff)
	if err != nil {
		o.log.Warn("impact analysis failed, running full suite", zap.Error(err))
		imp = nil
	}

	targeted, err := o.runner.TargetedRun(ctx, imp)
	if err != nil {
		return fmt.Errorf("targeted run: %w", err)
	}
	o.ctx.Artifacts["targeted_test_results"] = targeted
	o.ctx.TestReport = targeted
	o.emit("tests_run", map[string]any{"targeted": true, "passed": targeted.Success})
	if !targeted.Success {
		o.ctx.testsPassing = false
		return nil
	}

	// Targeted pass is necessary but not sufficient; the full suite decides.
	full, err := o.runner.FullRun(ctx)
	if err != nil {
		return fmt.Errorf("full run: %w", err)
	}
	o.ctx.Artifacts["full_test_results"] = full
	o.ctx.TestReport = full
	o.ctx.testsPassing = full.Success
	o.emit("tests_run", map[string]any{"targeted": false, "passed": full.Success})
	return nil
}

func (o *Orchestrator) handleIterate(ctx context.Context) error {
	o.chargeRetry()
	o.ctx.iteration++

	failureCtx := o.failureContext()
	o.ctx.Artifacts["repair_context"] = failureCtx

	repair, usage, err := o.deps.Adapter.SuggestRepair(ctx, failureCtx, o.ctx.AppliedPatches, o.ctx.Plan)
	o.addUsage(usage)
	if err != nil {
		return fmt.Errorf("suggest repair: %w", err)
	}
	o.ctx.Artifacts["repair"] = repair
	if repair.ModifiedPlan != nil && len(repair.ModifiedPlan.Steps) > 0 {
		o.ctx.Plan = repair.ModifiedPlan
	}
	if o.ctx.ExecPlan != nil && o.ctx.ExecPlan.NextStep() != nil {
		_ = o.ctx.ExecPlan.FailNextStep(firstLine(failureCtx))
	}

	o.snapshotPlan()
	o.emit("iterate", map[string]any{
		"retry_count": o.ctx.RetryCount,
		"strategy":    repair.RepairStrategy,
		"confidence":  repair.Confidence,
	})
	return nil
}

// failureContext summarizes why the last attempt failed: the first failing
// test when one exists, otherwise the patch rejection reasons.
func (o *Orchestrator) failureContext() string {
	if o.ctx.TestReport != nil && !o.ctx.TestReport.Success {
		if f := o.ctx.TestReport.FirstFailure(); f != nil {
			var b strings.Builder
			fmt.Fprintf(&b, "test %s failed", f.Name)
			if f.Message != "" {
				fmt.Fprintf(&b, ": %s", f.Message)
			}
			if f.Snippet != "" {
				b.WriteString("\n\n")
				b.WriteString(f.Snippet)
			}
			return b.String()
		}
		return fmt.Sprintf("%d of %d tests failed", o.ctx.TestReport.Failed, o.ctx.TestReport.Total)
	}
	if reasons, ok := o.ctx.Artifacts["patch_rejects"].([]string); ok {
		return "patch rejected: " + strings.Join(reasons, "; ")
	}
	return "previous attempt failed"
}

func (o *Orchestrator) handleDone() {
	o.ctx.Artifacts["status"] = "success"
	if o.queryOnly() || len(o.ctx.AppliedPatches) == 0 {
		o.ctx.Artifacts["final_diff"] = QueryOnlySentinel
	} else {
		o.ctx.Artifacts["final_diff"] = strings.Join(o.ctx.AppliedPatches, "\n")
	}
	o.ctx.Artifacts["duration"] = o.elapsed().String()
	if o.patches != nil {
		if fd := o.patches.FormatterDiff(); fd != "" {
			o.ctx.Artifacts["formatter_diff"] = fd
		}
	}
	o.log.Info("task done",
		zap.Int("retries", o.ctx.RetryCount),
		zap.Int("tokens", o.ctx.TokenUsage),
		zap.Int("patches", len(o.ctx.AppliedPatches)))
}

func (o *Orchestrator) handleAbort() {
	o.ctx.Artifacts["status"] = "aborted"
	o.ctx.Artifacts["abort_reason"] = o.abortReason()
	o.ctx.Artifacts["duration"] = o.elapsed().String()
	if o.patches != nil {
		if err := o.patches.Rollback(); err != nil {
			o.log.Error("rollback failed", zap.Error(err))
			o.ctx.Artifacts["rollback_error"] = err.Error()
		}
	}
	o.log.Warn("task aborted", zap.String("reason", stringArtifact(o.ctx.Artifacts, "abort_reason")))
}

// abortReason names the binding constraint. A handler error (policy
// violation, fatal failure) takes precedence; resource exhaustion follows
// in the order duration, tokens, retries.
func (o *Orchestrator) abortReason() string {
	if msg := stringArtifact(o.ctx.Artifacts, "error"); msg != "" {
		return msg
	}
	switch {
	case o.elapsed() >= o.task.Limits.MaxDuration:
		return fmt.Sprintf("Timeout: wall clock exceeded %s", o.task.Limits.MaxDuration)
	case o.ctx.TokenUsage > o.task.Limits.MaxTokens:
		return fmt.Sprintf("Token limit exceeded: %d > %d", o.ctx.TokenUsage, o.task.Limits.MaxTokens)
	case o.ctx.RetryCount >= o.task.Limits.MaxRetries:
		return fmt.Sprintf("Retry limit reached (%d)", o.task.Limits.MaxRetries)
	default:
		return "unknown"
	}
}

func (o *Orchestrator) snapshotPlan() {
	if o.deps.TraceDir == "" || o.ctx.ExecPlan == nil {
		return
	}
	if err := trace.WritePlanSnapshot(o.deps.TraceDir, o.ctx.iteration, o.task.Goal, o.ctx.ExecPlan); err != nil {
		o.log.Debug("plan snapshot failed", zap.Error(err))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
