package testrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/index"
	"github.com/vsavkov/patchloop/internal/sandbox"
)

// suiteTimeout is the wall-clock cap for a single framework invocation.
const suiteTimeout = 5 * time.Minute

const maxOutputBytes = 64 * 1024

// Failure is one failing test with enough surrounding output to repair it.
type Failure struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
	File    string `json:"file,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Report is the structured outcome of one suite run. Success means the
// framework ran and every selected test passed.
type Report struct {
	Framework string        `json:"framework"`
	Command   string        `json:"command"`
	Targeted  bool          `json:"targeted"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed_count"`
	Failed    int           `json:"failed_count"`
	Skipped   int           `json:"skipped_count"`
	Success   bool          `json:"passed"`
	TimedOut  bool          `json:"timed_out"`
	Duration  time.Duration `json:"duration"`
	Failures  []Failure     `json:"failures,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// FirstFailure returns the minimal failure bundle ITERATE feeds back to the
// model, or nil when the run passed.
func (r *Report) FirstFailure() *Failure {
	if len(r.Failures) == 0 {
		return nil
	}
	return &r.Failures[0]
}

// Runner executes suites for one working directory.
type Runner struct {
	root string
	sb   sandbox.Sandbox
	log  *zap.Logger
	fw   *Framework
}

func NewRunner(root string, sb sandbox.Sandbox, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{root: root, sb: sb, log: log, fw: DetectFramework(root)}
}

// Framework reports the detected framework, nil when none was found.
func (r *Runner) Framework() *Framework { return r.fw }

// TargetedRun executes the tests selected from a change impact. When
// selection comes up empty it falls through to the full suite.
func (r *Runner) TargetedRun(ctx context.Context, imp *index.ChangeImpact) (*Report, error) {
	targets := r.SelectTargets(imp)
	if len(targets) == 0 {
		r.log.Info("no targeted tests found, running full suite")
		return r.run(ctx, nil, false)
	}
	return r.run(ctx, targets, true)
}

// FullRun executes the entire suite.
func (r *Runner) FullRun(ctx context.Context) (*Report, error) {
	return r.run(ctx, nil, false)
}

// SelectTargets picks the test files to run for an impact: the index's mapped
// tests, conventional naming pairs of each impacted source, and known test
// files that mention an impacted symbol by name.
func (r *Runner) SelectTargets(imp *index.ChangeImpact) []string {
	if imp == nil {
		return nil
	}
	set := map[string]bool{}
	for _, t := range imp.Tests {
		set[t] = true
	}
	for _, f := range imp.Files {
		for _, cand := range namingPairs(f) {
			if _, err := os.Stat(filepath.Join(r.root, cand)); err == nil {
				set[cand] = true
			}
		}
	}
	if len(imp.Symbols) > 0 {
		r.scanTestFilesForSymbols(imp.Symbols, set)
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// namingPairs lists conventional test file names for a source file,
// both alongside it and under tests/.
func namingPairs(src string) []string {
	dir := filepath.Dir(src)
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var names []string
	switch ext {
	case ".py":
		names = []string{"test_" + base, stem + "_test.py"}
	case ".js", ".jsx", ".ts", ".tsx":
		names = []string{stem + ".test" + ext, stem + ".spec" + ext}
	case ".go":
		names = []string{stem + "_test.go"}
	default:
		return nil
	}
	var out []string
	for _, n := range names {
		out = append(out, filepath.Join(dir, n))
		if dir != "tests" {
			out = append(out, filepath.Join("tests", n))
		}
	}
	return out
}

func (r *Runner) scanTestFilesForSymbols(symbols []index.Symbol, set map[string]bool) {
	_ = filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != r.root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil || !index.IsTestFile(rel) || set[rel] {
			return nil
		}
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		content := string(b)
		for _, s := range symbols {
			name := s.Name
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			if name != "" && strings.Contains(content, name) {
				set[rel] = true
				return nil
			}
		}
		return nil
	})
}

func (r *Runner) run(ctx context.Context, targets []string, targeted bool) (*Report, error) {
	if r.fw == nil {
		return &Report{
			Framework: "none",
			Targeted:  targeted,
			Total:     1,
			Failed:    1,
			Failures:  []Failure{{Name: "framework-detection", Message: "no framework"}},
		}, nil
	}

	command := r.buildCommand(targets)
	r.log.Info("running tests",
		zap.String("framework", r.fw.Name),
		zap.String("command", command),
		zap.Bool("targeted", targeted))

	res, err := r.sb.Exec(ctx, command, r.root, suiteTimeout)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", r.fw.Name, err)
	}
	if res.TimedOut {
		return &Report{
			Framework: r.fw.Name,
			Command:   command,
			Targeted:  targeted,
			Total:     1,
			Failed:    1,
			TimedOut:  true,
			Duration:  res.Duration,
			Failures:  []Failure{{Name: "suite-timeout", Message: fmt.Sprintf("suite exceeded %s", suiteTimeout)}},
		}, nil
	}

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n" + res.Stderr
	}
	rep := parseOutput(r.fw.Name, output)
	rep.Framework = r.fw.Name
	rep.Command = command
	rep.Targeted = targeted
	rep.Duration = res.Duration
	rep.Output = truncate(output, maxOutputBytes)
	// Exit code is authoritative when parsing found nothing countable.
	if rep.Total == 0 {
		rep.Success = res.ExitCode == 0
		if !rep.Success && len(rep.Failures) == 0 {
			rep.Failed = 1
			rep.Failures = []Failure{{
				Name:    "suite",
				Message: fmt.Sprintf("exit code %d", res.ExitCode),
				Snippet: tailLines(output, 13),
			}}
		}
	}
	return rep, nil
}

// buildCommand appends targets the way each framework expects them.
func (r *Runner) buildCommand(targets []string) string {
	if len(targets) == 0 {
		if r.fw.Name == "go" {
			return r.fw.Command + " ./..."
		}
		return r.fw.Command
	}
	switch r.fw.Name {
	case "jest":
		return fmt.Sprintf("%s --testPathPattern '%s'", r.fw.Command, strings.Join(targets, "|"))
	case "go":
		pkgs := map[string]bool{}
		for _, t := range targets {
			pkgs["./"+filepath.Dir(t)] = true
		}
		list := make([]string, 0, len(pkgs))
		for p := range pkgs {
			list = append(list, p)
		}
		sort.Strings(list)
		return r.fw.Command + " " + strings.Join(list, " ")
	default:
		return r.fw.Command + " " + strings.Join(targets, " ")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}

// tailLines returns the last n lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
