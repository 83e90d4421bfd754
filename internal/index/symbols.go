package index

import (
	"regexp"
	"strings"
)

var (
	pyDefRe    = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*(\(.*)?$`)
	pyClassRe  = regexp.MustCompile(`^(\s*)class\s+([A-Za-z_][A-Za-z0-9_]*)`)
	pyImportRe = regexp.MustCompile(`^\s*import\s+([A-Za-z0-9_.]+(?:\s*,\s*[A-Za-z0-9_.]+)*)`)
	pyFromRe   = regexp.MustCompile(`^\s*from\s+([A-Za-z0-9_.]+)\s+import\b`)
)

// parsePython extracts symbols and imports from python source with a
// line-based scan: top-level defs become functions, classes become classes,
// and defs nested one level inside a class body become Class.method entries.
// Line ranges run from the declaration through the block's last non-blank
// line.
func parsePython(path, content string) (syms []Symbol, imports []string, warning string) {
	lines := strings.Split(content, "\n")

	type decl struct {
		idx    int
		indent int
		name   string
		kind   SymbolKind
		sig    string
	}
	var decls []decl

	for i, line := range lines {
		if m := pyFromRe.FindStringSubmatch(line); m != nil {
			imports = append(imports, m[1])
			continue
		}
		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			for _, mod := range strings.Split(m[1], ",") {
				imports = append(imports, strings.TrimSpace(mod))
			}
			continue
		}
		if m := pyClassRe.FindStringSubmatch(line); m != nil {
			decls = append(decls, decl{idx: i, indent: len(m[1]), name: m[2], kind: KindClass, sig: strings.TrimSpace(line)})
			continue
		}
		if m := pyDefRe.FindStringSubmatch(line); m != nil {
			decls = append(decls, decl{idx: i, indent: len(m[1]), name: m[2], kind: KindFunction, sig: strings.TrimSpace(line)})
		}
	}

	// Attribute methods to their enclosing class and drop defs nested deeper
	// than one level (closures, methods of nested classes).
	var currentClass *decl
	for di := range decls {
		d := &decls[di]
		switch {
		case d.kind == KindClass && d.indent == 0:
			currentClass = d
		case d.kind == KindClass:
			// Nested class; does not reset method attribution.
		case d.indent == 0:
			currentClass = nil
		case currentClass != nil && d.idx > currentClass.idx && d.indent > currentClass.indent:
			d.kind = KindMethod
			d.name = currentClass.name + "." + d.name
		default:
			d.name = ""
		}
	}

	for _, d := range decls {
		if d.name == "" {
			continue
		}
		if d.kind == KindMethod && d.indent > 8 {
			// Deeper than one method level; skip.
			continue
		}
		end := blockEnd(lines, d.idx, d.indent)
		syms = append(syms, Symbol{
			Name:      d.name,
			Kind:      d.kind,
			File:      path,
			LineStart: d.idx + 1,
			LineEnd:   end + 1,
			Signature: d.sig,
			Docstring: docstringAfter(lines, d.idx),
		})
	}
	return syms, imports, ""
}

// blockEnd finds the last non-blank line of the block declared at start with
// the given indentation.
func blockEnd(lines []string, start, indent int) int {
	end := start
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if leadingSpaces(lines[i]) <= indent {
			break
		}
		end = i
	}
	return end
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

// docstringAfter returns the first line of a docstring opening directly
// under a declaration, without the quotes.
func docstringAfter(lines []string, declIdx int) string {
	for i := declIdx + 1; i < len(lines) && i <= declIdx+2; i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		for _, q := range []string{`"""`, "'''"} {
			if strings.HasPrefix(t, q) {
				t = strings.TrimPrefix(t, q)
				if j := strings.Index(t, q); j >= 0 {
					t = t[:j]
				}
				return strings.TrimSpace(t)
			}
		}
		return ""
	}
	return ""
}

var genericPatterns = map[string]struct {
	imports []*regexp.Regexp
	funcs   *regexp.Regexp
	classes *regexp.Regexp
}{
	"go": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*(?:import\s+)?(?:[A-Za-z0-9_.]+\s+)?"([^"]+)"`)},
		funcs:   regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
		classes: regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`),
	},
	"javascript": {
		imports: []*regexp.Regexp{
			regexp.MustCompile(`^\s*import\b.*from\s+['"]([^'"]+)['"]`),
			regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`),
		},
		funcs:   regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		classes: regexp.MustCompile(`^(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	},
	"typescript": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*import\b.*from\s+['"]([^'"]+)['"]`)},
		funcs:   regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
		classes: regexp.MustCompile(`^(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	},
	"rust": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*use\s+([A-Za-z0-9_:]+)`)},
		funcs:   regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`),
		classes: regexp.MustCompile(`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
	"ruby": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*require(?:_relative)?\s+['"]([^'"]+)['"]`)},
		funcs:   regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_?!]*)`),
		classes: regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_:]*)`),
	},
	"java": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*import\s+([A-Za-z0-9_.]+);`)},
		funcs:   regexp.MustCompile(`^\s*(?:public|private|protected)\s+[\w<>\[\]]+\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
		classes: regexp.MustCompile(`^\s*(?:public\s+)?(?:final\s+)?(?:class|interface|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
	"c": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*#include\s+[<"]([^>"]+)[>"]`)},
		funcs:   regexp.MustCompile(`^[A-Za-z_][\w\s\*]*\s\*?([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*$`),
		classes: regexp.MustCompile(`^\s*(?:typedef\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
	"cpp": {
		imports: []*regexp.Regexp{regexp.MustCompile(`^\s*#include\s+[<"]([^>"]+)[>"]`)},
		funcs:   regexp.MustCompile(`^[A-Za-z_][\w\s:<>\*&]*\s\*?([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*$`),
		classes: regexp.MustCompile(`^\s*(?:class|struct)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	},
}

// parseGeneric extracts imports and top-level declarations with per-language
// regexes. Without a full parser, line ranges collapse to the declaration
// line.
func parseGeneric(path, content, language string) ([]Symbol, []string) {
	pat, ok := genericPatterns[language]
	if !ok {
		return nil, nil
	}
	var syms []Symbol
	var imports []string
	inImportBlock := false
	for i, line := range lines(content) {
		if language == "go" {
			switch {
			case strings.HasPrefix(line, "import ("):
				inImportBlock = true
				continue
			case inImportBlock && strings.HasPrefix(line, ")"):
				inImportBlock = false
				continue
			}
		}
		for _, re := range pat.imports {
			if m := re.FindStringSubmatch(line); m != nil {
				if language == "go" && !inImportBlock && !strings.HasPrefix(strings.TrimSpace(line), "import") {
					continue
				}
				imports = append(imports, m[1])
				break
			}
		}
		if m := pat.funcs.FindStringSubmatch(line); m != nil {
			syms = append(syms, Symbol{
				Name: m[1], Kind: KindFunction, File: path,
				LineStart: i + 1, LineEnd: i + 1,
				Signature: strings.TrimSpace(line),
			})
			continue
		}
		if m := pat.classes.FindStringSubmatch(line); m != nil {
			syms = append(syms, Symbol{
				Name: m[1], Kind: KindClass, File: path,
				LineStart: i + 1, LineEnd: i + 1,
				Signature: strings.TrimSpace(line),
			})
		}
	}
	return syms, imports
}

func lines(content string) []string {
	return strings.Split(content, "\n")
}
