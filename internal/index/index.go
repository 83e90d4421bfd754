// Package index builds and queries an in-memory semantic index of a working
// directory: per-file records, a symbol table, an import graph and a
// test-to-source mapping. It answers budget-bounded retrieval queries and
// identifies the tests impacted by a diff.
package index

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/hashutil"
)

type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindClass    SymbolKind = "class"
	KindMethod   SymbolKind = "method"
	KindVariable SymbolKind = "variable"
)

type Symbol struct {
	Name      string     `json:"name" msgpack:"name"`
	Kind      SymbolKind `json:"kind" msgpack:"kind"`
	File      string     `json:"file" msgpack:"file"`
	LineStart int        `json:"line_start" msgpack:"line_start"`
	LineEnd   int        `json:"line_end" msgpack:"line_end"`
	Signature string     `json:"signature,omitempty" msgpack:"signature,omitempty"`
	Docstring string     `json:"docstring,omitempty" msgpack:"docstring,omitempty"`
}

// FileContext is the per-file index record.
type FileContext struct {
	Path     string   `json:"path" msgpack:"path"`
	Content  string   `json:"-" msgpack:"content"`
	Hash     string   `json:"hash" msgpack:"hash"`
	Language string   `json:"language" msgpack:"language"`
	Imports  []string `json:"imports,omitempty" msgpack:"imports,omitempty"`
	Exports  []string `json:"exports,omitempty" msgpack:"exports,omitempty"`
	Symbols  []Symbol `json:"symbols,omitempty" msgpack:"symbols,omitempty"`
	Tests    []string `json:"tests,omitempty" msgpack:"tests,omitempty"`
}

// Engine owns the indices for one task's lifetime. Relationships between
// files are kept as path-keyed sets rather than pointers so the whole index
// is snapshotable.
type Engine struct {
	root string
	log  *zap.Logger

	Files       map[string]*FileContext
	SymbolIndex map[string][]Symbol
	ImportGraph map[string]map[string]bool
	TestMapping map[string]map[string]bool

	ConfigFiles []string
	GuideFiles  []string

	Warnings []string
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"venv":         true,
	"env":          true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

var binaryExts = map[string]bool{
	".pyc": true, ".pyo": true, ".so": true, ".dylib": true, ".dll": true,
	".exe": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".ico": true, ".webp": true, ".pdf": true, ".zip": true,
	".gz": true, ".tar": true, ".woff": true, ".woff2": true,
}

var languageByExt = map[string]string{
	".py": "python", ".go": "go", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".rs": "rust", ".rb": "ruby",
	".java": "java", ".c": "c", ".h": "c", ".cpp": "cpp", ".cc": "cpp",
	".md": "markdown", ".rst": "markdown", ".toml": "config", ".yaml": "config",
	".yml": "config", ".json": "config", ".ini": "config", ".cfg": "config",
	".sh": "shell", ".txt": "text",
}

var configBasenames = map[string]bool{
	"pyproject.toml": true, "setup.py": true, "setup.cfg": true,
	"pytest.ini": true, "package.json": true, "tsconfig.json": true,
	"go.mod": true, "cargo.toml": true, "makefile": true,
	"requirements.txt": true, "dockerfile": true,
}

func NewEngine(root string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		root:        root,
		log:         log,
		Files:       map[string]*FileContext{},
		SymbolIndex: map[string][]Symbol{},
		ImportGraph: map[string]map[string]bool{},
		TestMapping: map[string]map[string]bool{},
	}
}

func (e *Engine) Root() string { return e.root }

// Rel converts an indexed absolute path to working-directory-relative form.
func (e *Engine) Rel(abs string) string {
	if r, err := filepath.Rel(e.root, abs); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return abs
}

// Abs resolves a possibly-relative path against the working directory.
func (e *Engine) Abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root, p)
}

// IsTestFile implements the test-file predicate: basename contains "test" or
// "spec", or the parent directory is named test/tests.
func IsTestFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if strings.Contains(stem, "test") || strings.Contains(stem, "spec") {
		return true
	}
	parent := strings.ToLower(filepath.Base(filepath.Dir(path)))
	return parent == "test" || parent == "tests"
}

// IndexRepository walks the working directory and builds all four indices.
// Unparseable files are recorded with a warning and kept without symbols;
// unreadable files are skipped silently.
func (e *Engine) IndexRepository() error {
	err := filepath.WalkDir(e.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == e.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirs[strings.ToLower(name)] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if binaryExts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		e.indexFile(path)
		return nil
	})
	if err != nil {
		return err
	}
	e.buildImportGraph()
	e.buildTestMapping()
	e.log.Info("indexed repository",
		zap.String("root", e.root),
		zap.Int("files", len(e.Files)),
		zap.Int("symbols", len(e.SymbolIndex)))
	return nil
}

func (e *Engine) indexFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	content := string(raw)
	ext := strings.ToLower(filepath.Ext(path))
	fc := &FileContext{
		Path:     path,
		Content:  content,
		Hash:     hashutil.Short(raw),
		Language: languageByExt[ext],
	}

	switch fc.Language {
	case "python":
		syms, imports, warn := parsePython(path, content)
		fc.Symbols, fc.Imports = syms, imports
		if warn != "" {
			e.Warnings = append(e.Warnings, path+": "+warn)
		}
	case "go", "javascript", "typescript", "rust", "ruby", "java", "c", "cpp":
		fc.Symbols, fc.Imports = parseGeneric(path, content, fc.Language)
	}
	for _, s := range fc.Symbols {
		fc.Exports = append(fc.Exports, s.Name)
	}

	base := strings.ToLower(filepath.Base(path))
	if configBasenames[base] {
		e.ConfigFiles = append(e.ConfigFiles, path)
	}
	if strings.HasPrefix(base, "readme") || strings.HasPrefix(base, "contributing") || base == "agents.md" {
		e.GuideFiles = append(e.GuideFiles, path)
	}

	e.Files[path] = fc
	for _, s := range fc.Symbols {
		e.SymbolIndex[s.Name] = append(e.SymbolIndex[s.Name], s)
	}
}

// buildImportGraph resolves each file's import strings to indexed files where
// possible. Unresolved imports stay available as strings on the FileContext.
func (e *Engine) buildImportGraph() {
	for path, fc := range e.Files {
		targets := map[string]bool{}
		for _, imp := range fc.Imports {
			if resolved := e.resolveImport(path, imp); resolved != "" {
				targets[resolved] = true
			}
		}
		if len(targets) > 0 {
			e.ImportGraph[path] = targets
		}
	}
}

// resolveImport maps an import string to an indexed file path, or "" when
// the import is external or otherwise unresolvable.
func (e *Engine) resolveImport(from, imp string) string {
	imp = strings.TrimSpace(imp)
	if imp == "" {
		return ""
	}
	dir := filepath.Dir(from)

	// Relative javascript/typescript imports.
	if strings.HasPrefix(imp, "./") || strings.HasPrefix(imp, "../") {
		base := filepath.Join(dir, imp)
		for _, cand := range []string{base, base + ".js", base + ".ts", base + ".jsx", base + ".tsx", filepath.Join(base, "index.js"), filepath.Join(base, "index.ts")} {
			if _, ok := e.Files[cand]; ok {
				return cand
			}
		}
		return ""
	}

	// Dotted python modules, tried against the repo root and the importing
	// file's directory.
	rel := filepath.FromSlash(strings.ReplaceAll(imp, ".", "/"))
	for _, baseDir := range []string{e.root, dir} {
		for _, cand := range []string{
			filepath.Join(baseDir, rel+".py"),
			filepath.Join(baseDir, rel, "__init__.py"),
		} {
			if _, ok := e.Files[cand]; ok {
				return cand
			}
		}
	}
	return ""
}

// buildTestMapping maps each source file to the test files importing it.
func (e *Engine) buildTestMapping() {
	for testPath := range e.Files {
		if !IsTestFile(testPath) {
			continue
		}
		for target := range e.ImportGraph[testPath] {
			if IsTestFile(target) {
				continue
			}
			if e.TestMapping[target] == nil {
				e.TestMapping[target] = map[string]bool{}
			}
			e.TestMapping[target][testPath] = true
		}
	}
	for src, tests := range e.TestMapping {
		fc := e.Files[src]
		if fc == nil {
			continue
		}
		fc.Tests = setToSorted(tests)
	}
}

// TestsFor returns the sorted test files mapped to a source path (absolute
// or working-directory-relative).
func (e *Engine) TestsFor(path string) []string {
	return setToSorted(e.TestMapping[e.Abs(path)])
}

func setToSorted(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
