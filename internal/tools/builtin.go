package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/policy"
	"github.com/vsavkov/patchloop/internal/sandbox"
)

const (
	maxToolOutput = 30_000
	shellTimeout  = 30 * time.Second
)

// NewBuiltinRegistry wires the standard tool set for one working directory.
// Shell commands are gated through the policy engine; a violation comes back
// as a blocked result.
func NewBuiltinRegistry(root string, sb sandbox.Sandbox, pol *policy.Engine, log *zap.Logger) (*Registry, error) {
	r := NewRegistry(log)

	register := func(def Definition, run RunFunc) error { return r.Register(def, run) }

	if err := register(Definition{
		Name:         "read_file",
		Description:  "Read a file from the working directory.",
		Capabilities: []string{"filesystem-read"},
		UseCases:     []string{"inspect source before editing", "confirm applied changes"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "working-directory-relative path"},
			},
			"required": []any{"path"},
		},
	}, func(ctx context.Context, params map[string]any) Result {
		rel, _ := params["path"].(string)
		abs, err := resolveWithin(root, rel)
		if err != nil {
			return errorResult("%v", err)
		}
		b, err := os.ReadFile(abs)
		if err != nil {
			return errorResult("read %s: %v", rel, err)
		}
		return Result{Status: StatusSuccess, Output: truncateOutput(string(b)), Metadata: map[string]any{"bytes": len(b)}}
	}); err != nil {
		return nil, err
	}

	if err := register(Definition{
		Name:         "write_file",
		Description:  "Write content to a file in the working directory, creating parent directories.",
		Capabilities: []string{"filesystem-write"},
		UseCases:     []string{"create a new file the diff format cannot express cleanly"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []any{"path", "content"},
		},
	}, func(ctx context.Context, params map[string]any) Result {
		rel, _ := params["path"].(string)
		content, _ := params["content"].(string)
		if pol != nil {
			if res := pol.ValidatePlan(policy.PlanCheck{Files: []string{rel}}); !res.IsValid {
				return Result{Status: StatusBlocked, Error: strings.Join(res.Violations, "; ")}
			}
		}
		abs, err := resolveWithin(root, rel)
		if err != nil {
			return errorResult("%v", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return errorResult("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return errorResult("write %s: %v", rel, err)
		}
		return Result{Status: StatusSuccess, Metadata: map[string]any{"bytes": len(content)}}
	}); err != nil {
		return nil, err
	}

	if err := register(Definition{
		Name:         "shell",
		Description:  "Run a shell command in the working directory.",
		Capabilities: []string{"subprocess"},
		UseCases:     []string{"run a linter or formatter", "inspect project state"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":   map[string]any{"type": "string"},
				"timeout_s": map[string]any{"type": "number"},
			},
			"required": []any{"command"},
		},
	}, func(ctx context.Context, params map[string]any) Result {
		command, _ := params["command"].(string)
		if pol != nil {
			if res := pol.ValidateCommands([]string{command}); !res.IsValid {
				return Result{Status: StatusBlocked, Error: strings.Join(res.Violations, "; ")}
			}
		}
		timeout := shellTimeout
		if v, ok := params["timeout_s"].(float64); ok && v > 0 {
			timeout = time.Duration(v * float64(time.Second))
		}
		res, err := sb.Exec(ctx, command, root, timeout)
		if err != nil {
			return errorResult("exec: %v", err)
		}
		out := res.Stdout
		if res.Stderr != "" {
			out += "\n" + res.Stderr
		}
		meta := map[string]any{"exit_code": res.ExitCode, "duration_ms": res.Duration.Milliseconds(), "timed_out": res.TimedOut}
		if res.ExitCode != 0 || res.TimedOut {
			return Result{Status: StatusError, Output: truncateOutput(out), Error: fmt.Sprintf("exit code %d", res.ExitCode), Metadata: meta}
		}
		return Result{Status: StatusSuccess, Output: truncateOutput(out), Metadata: meta}
	}); err != nil {
		return nil, err
	}

	if err := register(Definition{
		Name:         "grep",
		Description:  "Search file contents under the working directory with a regular expression.",
		Capabilities: []string{"filesystem-read", "search"},
		UseCases:     []string{"locate symbol definitions", "find usages before refactoring"},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"glob":    map[string]any{"type": "string"},
			},
			"required": []any{"pattern"},
		},
	}, func(ctx context.Context, params map[string]any) Result {
		pattern, _ := params["pattern"].(string)
		glob, _ := params["glob"].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errorResult("bad pattern: %v", err)
		}
		var b strings.Builder
		matches := 0
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || matches >= 500 {
				return nil
			}
			if d.IsDir() {
				name := d.Name()
				if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv") {
					return filepath.SkipDir
				}
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			if glob != "" {
				if ok, _ := filepath.Match(glob, filepath.Base(rel)); !ok {
					return nil
				}
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}
			for i, line := range strings.Split(string(content), "\n") {
				if re.MatchString(line) {
					fmt.Fprintf(&b, "%s:%d:%s\n", rel, i+1, line)
					matches++
				}
			}
			return nil
		})
		return Result{Status: StatusSuccess, Output: truncateOutput(b.String()), Metadata: map[string]any{"matches": matches}}
	}); err != nil {
		return nil, err
	}

	return r, nil
}

// resolveWithin joins rel under root and rejects escapes.
func resolveWithin(root, rel string) (string, error) {
	abs := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the working directory", rel)
	}
	return abs, nil
}

// truncateOutput keeps the head and tail when output is oversized.
func truncateOutput(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	head := maxToolOutput / 2
	tail := maxToolOutput - head
	removed := len(s) - maxToolOutput
	return s[:head] + fmt.Sprintf("\n[... %d characters omitted ...]\n", removed) + s[len(s)-tail:]
}
