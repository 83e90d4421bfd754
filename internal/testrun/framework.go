// Package testrun detects a project's test framework, runs targeted or full
// suites through the sandbox, and turns whatever the framework prints into a
// structured report.
package testrun

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Framework describes how to invoke one test tool and how to read its output.
type Framework struct {
	Name    string
	Command string // base invocation, targets appended per framework
}

var (
	Pytest = Framework{Name: "pytest", Command: "python -m pytest -q"}
	Jest   = Framework{Name: "jest", Command: "npx jest --silent"}
	Mocha  = Framework{Name: "mocha", Command: "npx mocha"}
	Cargo  = Framework{Name: "cargo", Command: "cargo test"}
	GoTest = Framework{Name: "go", Command: "go test -json"}
)

// configProbes are checked in order; the first hit wins.
var configProbes = []struct {
	glob string
	fw   Framework
}{
	{"pytest.ini", Pytest},
	{"pyproject.toml", Pytest},
	{"jest.config.*", Jest},
	{".mocharc.*", Mocha},
	{"Cargo.toml", Cargo},
	{"go.mod", GoTest},
}

// DetectFramework probes for framework config files at the repo root, then
// falls back to scanning for conventionally named test files. Returns nil
// when nothing matches.
func DetectFramework(root string) *Framework {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	for _, p := range configProbes {
		for _, name := range names {
			if ok, _ := filepath.Match(p.glob, name); ok {
				fw := p.fw
				return &fw
			}
		}
	}

	// Heuristic fallback: look for test files by naming convention.
	var found *Framework
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if found != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv") {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		switch {
		case strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
			fw := Pytest
			found = &fw
		case strings.HasSuffix(base, ".test.js") || strings.HasSuffix(base, ".test.ts"):
			fw := Jest
			found = &fw
		}
		return nil
	})
	return found
}
