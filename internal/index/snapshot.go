package index

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotDoc is the serialized index shape. Relationships are path-keyed
// string sets, so the snapshot round-trips without pointer identity.
type snapshotDoc struct {
	Root        string                  `msgpack:"root"`
	Files       map[string]*FileContext `msgpack:"files"`
	ImportGraph map[string][]string     `msgpack:"import_graph"`
	TestMapping map[string][]string     `msgpack:"test_mapping"`
	ConfigFiles []string                `msgpack:"config_files"`
	GuideFiles  []string                `msgpack:"guide_files"`
}

// SaveSnapshot persists the full index as msgpack, mainly for debugging and
// for tests that want a stable fixture of an indexed tree.
func (e *Engine) SaveSnapshot(path string) error {
	doc := snapshotDoc{
		Root:        e.root,
		Files:       e.Files,
		ImportGraph: map[string][]string{},
		TestMapping: map[string][]string{},
		ConfigFiles: e.ConfigFiles,
		GuideFiles:  e.GuideFiles,
	}
	for k, v := range e.ImportGraph {
		doc.ImportGraph[k] = setToSorted(v)
	}
	for k, v := range e.TestMapping {
		doc.TestMapping[k] = setToSorted(v)
	}
	b, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadSnapshot restores an engine from a snapshot file.
func LoadSnapshot(path string) (*Engine, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc snapshotDoc
	if err := msgpack.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	e := NewEngine(doc.Root, nil)
	if doc.Files != nil {
		e.Files = doc.Files
	}
	for _, fc := range e.Files {
		for _, s := range fc.Symbols {
			e.SymbolIndex[s.Name] = append(e.SymbolIndex[s.Name], s)
		}
	}
	for k, v := range doc.ImportGraph {
		set := map[string]bool{}
		for _, t := range v {
			set[t] = true
		}
		e.ImportGraph[k] = set
	}
	for k, v := range doc.TestMapping {
		set := map[string]bool{}
		for _, t := range v {
			set[t] = true
		}
		e.TestMapping[k] = set
	}
	e.ConfigFiles = doc.ConfigFiles
	e.GuideFiles = doc.GuideFiles
	return e, nil
}
