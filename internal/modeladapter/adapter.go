// Package modeladapter turns orchestrator intents into prompts and enforces
// output shape on what comes back. Malformed model output never escapes as an
// error: every operation degrades to a usable fallback value.
package modeladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/llm"
)

// Completer is the slice of the LLM client the adapter needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// PlanStep is one step of a proposed plan.
type PlanStep struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Action      string   `json:"action"` // analyze, edit, test
	Files       []string `json:"files,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

// Dependencies lists the packages a plan wants added or removed.
type Dependencies struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// PlanSpec is the model's proposal for how to reach the goal.
type PlanSpec struct {
	Steps            []PlanStep   `json:"steps"`
	EstimatedChanges int          `json:"estimated_changes,omitempty"`
	RiskLevel        string       `json:"risk_level,omitempty"` // low, medium, high
	Dependencies     Dependencies `json:"dependencies,omitempty"`
	TestStrategy     string       `json:"test_strategy,omitempty"`
}

// Repair is the model's suggestion after a failed attempt.
type Repair struct {
	Analysis       string    `json:"analysis"`
	RepairStrategy string    `json:"repair_strategy"`
	ModifiedPlan   *PlanSpec `json:"modified_plan,omitempty"`
	Confidence     float64   `json:"confidence"`
}

// Adapter is stateless between calls; continuity comes from the
// previous-attempts history the orchestrator passes in.
type Adapter struct {
	client      Completer
	log         *zap.Logger
	temperature float64
}

func New(client Completer, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{client: client, log: log, temperature: 0.2}
}

const planSystemPrompt = `You are a software engineering planner. Given a goal and repository context, respond with a single JSON object:
{"steps": [{"id": "s1", "description": "...", "action": "analyze|edit|test", "files": ["..."], "rationale": "..."}],
 "estimated_changes": <int>, "risk_level": "low|medium|high",
 "dependencies": {"add": [], "remove": []}, "test_strategy": "..."}
Respond with JSON only.`

// CreatePlan asks for a stepwise plan. A malformed reply degrades to a
// single-analyze-step fallback.
func (a *Adapter) CreatePlan(ctx context.Context, goal, retrieval string, constraints []string) (*PlanSpec, llm.Usage, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Goal: %s\n\n", goal)
	if len(constraints) > 0 {
		fmt.Fprintf(&user, "Constraints:\n- %s\n\n", strings.Join(constraints, "\n- "))
	}
	fmt.Fprintf(&user, "Repository context:\n%s\n", retrieval)

	resp, err := a.client.Complete(ctx, llm.Request{
		Temperature: a.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}
	usage := hybridUsage(resp, user.String()+planSystemPrompt)

	plan := &PlanSpec{}
	if jsonBody := ExtractJSON(resp.Content); jsonBody != "" {
		if err := json.Unmarshal([]byte(jsonBody), plan); err != nil {
			a.log.Warn("plan did not parse, using fallback", zap.Error(err))
			plan = nil
		}
	} else {
		plan = nil
	}
	if plan == nil || len(plan.Steps) == 0 {
		plan = fallbackPlan(goal)
	}
	return plan, usage, nil
}

func fallbackPlan(goal string) *PlanSpec {
	return &PlanSpec{
		Steps: []PlanStep{{
			ID:          "s1",
			Action:      "analyze",
			Description: "Analyze the repository to determine how to achieve: " + goal,
		}},
		RiskLevel:    "low",
		TestStrategy: "run the full suite after any change",
	}
}

const patchSystemPrompt = `You are a software engineer producing a unified diff. Output only the diff:
start with "--- " / "+++ " file headers, use "@@ -start,count +start,count @@" hunk headers, and prefix lines with ' ', '-' or '+'. Use /dev/null for created or deleted files. If the request needs no code change, answer the question in plain text instead.`

// ProposePatch asks for a unified diff implementing the plan. The reply is
// stripped of code fences; when no diff markers are present the free text is
// returned unchanged so the caller can treat it as a query-only answer.
func (a *Adapter) ProposePatch(ctx context.Context, plan *PlanSpec, retrieval string, previousAttempts []string) (string, llm.Usage, error) {
	var user strings.Builder
	user.WriteString("Plan:\n")
	for _, s := range plan.Steps {
		fmt.Fprintf(&user, "- [%s] %s", s.Action, s.Description)
		if len(s.Files) > 0 {
			fmt.Fprintf(&user, " (files: %s)", strings.Join(s.Files, ", "))
		}
		user.WriteString("\n")
	}
	for i, prev := range previousAttempts {
		fmt.Fprintf(&user, "\nPrevious attempt %d (already applied or rejected):\n%s\n", i+1, prev)
	}
	fmt.Fprintf(&user, "\nRepository context:\n%s\n", retrieval)

	resp, err := a.client.Complete(ctx, llm.Request{
		Temperature: a.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: patchSystemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return ExtractDiff(resp.Content), hybridUsage(resp, user.String()+patchSystemPrompt), nil
}

const repairSystemPrompt = `You are debugging a failed code change. Given the failure and the plan, respond with a single JSON object:
{"analysis": "...", "repair_strategy": "...", "modified_plan": {<same shape as the original plan>}, "confidence": <0..1>}
Respond with JSON only.`

// SuggestRepair asks what to change after a failure. A malformed reply
// degrades to a low-confidence mapping that echoes the original plan.
func (a *Adapter) SuggestRepair(ctx context.Context, failureContext string, previousAttempts []string, plan *PlanSpec) (*Repair, llm.Usage, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Failure:\n%s\n", failureContext)
	if planJSON, err := json.Marshal(plan); err == nil {
		fmt.Fprintf(&user, "\nCurrent plan:\n%s\n", planJSON)
	}
	for i, prev := range previousAttempts {
		fmt.Fprintf(&user, "\nPrevious attempt %d:\n%s\n", i+1, prev)
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Temperature: a.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: repairSystemPrompt},
			{Role: llm.RoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return nil, llm.Usage{}, err
	}
	usage := hybridUsage(resp, user.String()+repairSystemPrompt)

	repair := &Repair{}
	if jsonBody := ExtractJSON(resp.Content); jsonBody != "" {
		if err := json.Unmarshal([]byte(jsonBody), repair); err != nil {
			repair = nil
		}
	} else {
		repair = nil
	}
	if repair == nil || repair.RepairStrategy == "" {
		a.log.Warn("repair did not parse, echoing plan at low confidence")
		repair = &Repair{
			Analysis:       "model output could not be parsed",
			RepairStrategy: "retry the previous plan",
			ModifiedPlan:   plan,
			Confidence:     0.1,
		}
	}
	return repair, usage, nil
}

// hybridUsage prefers the usage the server reported and falls back to a
// character-count estimate (4 chars per token) when it reported none.
func hybridUsage(resp *llm.Response, prompt string) llm.Usage {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage
	}
	p := len(prompt) / 4
	c := len(resp.Content) / 4
	return llm.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}
