// Package sandbox runs commands on behalf of the control loop and probes a
// working directory for its technology stack. The Local implementation
// executes in the host process; alternative implementations can route
// through a container or remote runner.
package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExecResult is the structured outcome of one command execution.
type ExecResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// StackInfo describes what the working directory is built with.
type StackInfo struct {
	Languages      []string `json:"languages"`
	Frameworks     []string `json:"frameworks"`
	BuildTools     []string `json:"build_tools"`
	TestFrameworks []string `json:"test_frameworks"`
	Formatters     []string `json:"formatters"`
	Linters        []string `json:"linters"`
}

// Sandbox is the execution collaborator the orchestrator depends on.
type Sandbox interface {
	DetectStack(ctx context.Context, dir string) (*StackInfo, error)
	Exec(ctx context.Context, command, cwd string, timeout time.Duration) (*ExecResult, error)
}

// Local runs commands in the host process through a non-login,
// non-interactive shell.
type Local struct {
	log *zap.Logger
}

func NewLocal(log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{log: log}
}

// Exec runs command under cwd with a hard wall-clock cap. A timeout is not an
// error: it is reported through ExecResult.TimedOut so callers can synthesize
// a failure record.
func (l *Local) Exec(ctx context.Context, command, cwd string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	cmd.Dir = cwd
	// Avoid hanging on interactive reads.
	cmd.Stdin = strings.NewReader("")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	res := &ExecResult{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: dur,
		TimedOut: cctx.Err() == context.DeadlineExceeded,
	}
	if res.TimedOut {
		l.log.Warn("command timed out", zap.String("command", command), zap.Duration("timeout", timeout))
		return res, nil
	}
	if runErr != nil && exitCode < 0 {
		return res, runErr
	}
	return res, nil
}

// stackProbes maps marker files to the stack facts they imply. Globs use
// filepath.Match semantics against base names.
var stackProbes = []struct {
	glob       string
	language   string
	framework  string
	buildTool  string
	testFw     string
	formatter  string
	linter     string
}{
	{glob: "go.mod", language: "go", buildTool: "go", testFw: "go test", formatter: "gofmt"},
	{glob: "package.json", language: "javascript", buildTool: "npm"},
	{glob: "tsconfig.json", language: "typescript"},
	{glob: "pyproject.toml", language: "python", buildTool: "pip"},
	{glob: "requirements.txt", language: "python", buildTool: "pip"},
	{glob: "setup.py", language: "python", buildTool: "pip"},
	{glob: "Cargo.toml", language: "rust", buildTool: "cargo", testFw: "cargo test", formatter: "rustfmt", linter: "clippy"},
	{glob: "Gemfile", language: "ruby", buildTool: "bundler"},
	{glob: "pom.xml", language: "java", buildTool: "maven"},
	{glob: "build.gradle", language: "java", buildTool: "gradle"},
	{glob: "Makefile", buildTool: "make"},
	{glob: "Dockerfile", buildTool: "docker"},
	{glob: "pytest.ini", testFw: "pytest"},
	{glob: "tox.ini", testFw: "pytest"},
	{glob: "jest.config.*", testFw: "jest"},
	{glob: ".mocharc.*", testFw: "mocha"},
	{glob: ".eslintrc*", linter: "eslint"},
	{glob: ".prettierrc*", formatter: "prettier"},
	{glob: ".flake8", linter: "flake8"},
	{glob: "ruff.toml", linter: "ruff"},
	{glob: ".rubocop.yml", linter: "rubocop"},
	{glob: ".golangci.yml", linter: "golangci-lint"},
	{glob: "manage.py", framework: "django"},
	{glob: "next.config.*", framework: "next.js"},
	{glob: "vite.config.*", framework: "vite"},
}

// DetectStack inspects the top-level entries of dir (plus a few well-known
// file contents) and reports the stack. Pure file inspection, no subprocess.
func (l *Local) DetectStack(ctx context.Context, dir string) (*StackInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	langs := map[string]bool{}
	fws := map[string]bool{}
	builds := map[string]bool{}
	testFws := map[string]bool{}
	fmts := map[string]bool{}
	lints := map[string]bool{}

	add := func(set map[string]bool, v string) {
		if v != "" {
			set[v] = true
		}
	}
	for _, ent := range entries {
		name := ent.Name()
		for _, p := range stackProbes {
			if ok, _ := filepath.Match(p.glob, name); !ok {
				continue
			}
			add(langs, p.language)
			add(fws, p.framework)
			add(builds, p.buildTool)
			add(testFws, p.testFw)
			add(fmts, p.formatter)
			add(lints, p.linter)
		}
	}

	// Manifest contents refine the file-name probes.
	if b, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		s := string(b)
		for dep, fw := range map[string]string{`"react"`: "react", `"vue"`: "vue", `"express"`: "express", `"jest"`: "", `"mocha"`: ""} {
			if strings.Contains(s, dep) {
				if fw != "" {
					fws[fw] = true
				}
			}
		}
		if strings.Contains(s, `"jest"`) {
			testFws["jest"] = true
		}
		if strings.Contains(s, `"mocha"`) {
			testFws["mocha"] = true
		}
	}
	if b, err := os.ReadFile(filepath.Join(dir, "pyproject.toml")); err == nil {
		s := string(b)
		if strings.Contains(s, "[tool.pytest") {
			testFws["pytest"] = true
		}
		if strings.Contains(s, "[tool.black]") {
			fmts["black"] = true
		}
		if strings.Contains(s, "[tool.ruff") {
			lints["ruff"] = true
		}
		if strings.Contains(s, "flask") {
			fws["flask"] = true
		}
		if strings.Contains(s, "django") {
			fws["django"] = true
		}
	}

	info := &StackInfo{
		Languages:      sorted(langs),
		Frameworks:     sorted(fws),
		BuildTools:     sorted(builds),
		TestFrameworks: sorted(testFws),
		Formatters:     sorted(fmts),
		Linters:        sorted(lints),
	}
	l.log.Info("stack detected",
		zap.Strings("languages", info.Languages),
		zap.Strings("test_frameworks", info.TestFrameworks))
	return info, nil
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
