package index

import (
	"sort"

	"github.com/vsavkov/patchloop/internal/patch"
)

// ChangeImpact lists what a diff touches: the files it modifies, the indexed
// symbols whose line ranges intersect modified lines, and the tests mapped
// to the impacted files. Paths are working-directory-relative.
type ChangeImpact struct {
	Files   []string `json:"files"`
	Symbols []Symbol `json:"symbols,omitempty"`
	Tests   []string `json:"tests,omitempty"`
}

// AnalyzeChanges parses the diff's hunk headers and intersects the modified
// line ranges with the symbol index. Files absent from the index (for
// example newly created ones) still appear in Files.
func (e *Engine) AnalyzeChanges(diff string) (*ChangeImpact, error) {
	patches, err := patch.Parse(diff)
	if err != nil {
		return nil, err
	}

	imp := &ChangeImpact{}
	testSet := map[string]bool{}
	for _, fp := range patches {
		rel := fp.TargetPath()
		abs := e.Abs(rel)
		imp.Files = append(imp.Files, e.Rel(abs))

		fc := e.Files[abs]
		if fc != nil {
			for _, h := range fp.Hunks {
				lo := h.OriginalStart
				hi := lo + max(h.OriginalCount-1, 0)
				for _, s := range fc.Symbols {
					if s.LineStart <= hi && s.LineEnd >= lo {
						imp.Symbols = appendSymbolOnce(imp.Symbols, s)
					}
				}
			}
		}
		for t := range e.TestMapping[abs] {
			testSet[e.Rel(t)] = true
		}
	}
	imp.Tests = setToSorted(testSet)
	sort.Slice(imp.Symbols, func(i, j int) bool {
		if imp.Symbols[i].File != imp.Symbols[j].File {
			return imp.Symbols[i].File < imp.Symbols[j].File
		}
		return imp.Symbols[i].LineStart < imp.Symbols[j].LineStart
	})
	return imp, nil
}

func appendSymbolOnce(syms []Symbol, s Symbol) []Symbol {
	for _, have := range syms {
		if have.File == s.File && have.Name == s.Name && have.LineStart == s.LineStart {
			return syms
		}
	}
	return append(syms, s)
}
