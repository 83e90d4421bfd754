package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExecCapturesStreamsAndExitCode(t *testing.T) {
	l := NewLocal(nil)
	res, err := l.Exec(context.Background(), "echo out; echo err >&2; exit 3", t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("streams = %q / %q", res.Stdout, res.Stderr)
	}
	if res.TimedOut {
		t.Fatal("spurious timeout")
	}
}

func TestExecRunsInGivenDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := NewLocal(nil).Exec(context.Background(), "ls", dir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stdout, "marker.txt") {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestExecTimeoutIsReportedNotErrored(t *testing.T) {
	l := NewLocal(nil)
	start := time.Now()
	res, err := l.Exec(context.Background(), "sleep 10", t.TempDir(), 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not cut the child short")
	}
}

func TestDetectStackPython(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"pyproject.toml":   "[tool.pytest.ini_options]\n[tool.ruff]\n",
		"requirements.txt": "flask>=2.0\n",
		"Makefile":         "test:\n\tpytest\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	info, err := NewLocal(nil).DetectStack(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Languages) != 1 || info.Languages[0] != "python" {
		t.Fatalf("languages = %v", info.Languages)
	}
	if !contains(info.TestFrameworks, "pytest") {
		t.Fatalf("test frameworks = %v", info.TestFrameworks)
	}
	if !contains(info.BuildTools, "make") || !contains(info.BuildTools, "pip") {
		t.Fatalf("build tools = %v", info.BuildTools)
	}
	if !contains(info.Linters, "ruff") {
		t.Fatalf("linters = %v", info.Linters)
	}
}

func TestDetectStackNode(t *testing.T) {
	dir := t.TempDir()
	pkg := `{"dependencies": {"react": "^18"}, "devDependencies": {"jest": "^29"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := NewLocal(nil).DetectStack(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(info.Languages, "javascript") {
		t.Fatalf("languages = %v", info.Languages)
	}
	if !contains(info.Frameworks, "react") || !contains(info.TestFrameworks, "jest") {
		t.Fatalf("frameworks = %v, test = %v", info.Frameworks, info.TestFrameworks)
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
