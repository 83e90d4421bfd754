// Package tools exposes the system's sub-utilities to external collaborators
// behind JSON-Schema-validated contracts. Every invocation returns a
// structured Result; tools never panic outward.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusBlocked Status = "blocked"
)

// Result is the uniform outcome of one tool invocation.
type Result struct {
	Status   Status         `json:"status"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func errorResult(format string, args ...any) Result {
	return Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// Definition is a tool's published contract.
type Definition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities,omitempty"`
	UseCases     []string       `json:"use_cases,omitempty"`
	Parameters   map[string]any `json:"parameters"`
}

// RunFunc executes a tool with schema-validated parameters.
type RunFunc func(ctx context.Context, params map[string]any) Result

type registeredTool struct {
	def    Definition
	schema *jsonschema.Schema
	run    RunFunc
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	log   *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{tools: map[string]registeredTool{}, log: log}
}

// Register compiles the tool's parameter schema and adds it to the registry.
func (r *Registry) Register(def Definition, run RunFunc) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if run == nil {
		return fmt.Errorf("tool %s missing executor", def.Name)
	}
	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", def.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registeredTool{def: def, schema: schema, run: run}
	return nil
}

// Definitions lists the published contracts.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	return out
}

// Invoke validates rawParams against the tool's schema and runs it. Schema
// failures and unknown tools come back as error results, not Go errors.
func (r *Registry) Invoke(ctx context.Context, name string, rawParams json.RawMessage) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult("unknown tool: %s", name)
	}

	params := map[string]any{}
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return errorResult("invalid parameters JSON: %v", err)
		}
	}
	if err := t.schema.Validate(anyify(params)); err != nil {
		return errorResult("parameter validation failed: %v", err)
	}
	res := t.run(ctx, params)
	r.log.Debug("tool invoked", zap.String("tool", name), zap.String("status", string(res.Status)))
	return res
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// anyify round-trips through json types so schema validation sees plain
// interface values.
func anyify(params map[string]any) any {
	b, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return params
	}
	return out
}
