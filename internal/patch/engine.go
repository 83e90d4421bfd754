package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/hashutil"
)

// Fuzzy matching parameters: search within ±fuzzyRadius lines of the hunk's
// expected position and accept the best window at or above fuzzyThreshold
// whitespace-stripped line similarity.
const (
	fuzzyRadius    = 20
	fuzzyThreshold = 0.80
)

// Validation warning thresholds.
const (
	warnHunkFileFraction = 0.80
	warnMaxAdditions     = 1000
	warnMaxDeletions     = 500
)

type Validation struct {
	Valid        bool
	Errors       []string
	Warnings     []string
	FilesChanged int
	TotalHunks   int
	Additions    int
	Deletions    int
}

type HunkReject struct {
	File   string `json:"file"`
	Hunk   int    `json:"hunk"`
	Reason string `json:"reason"`
}

type ApplyResult struct {
	Applied     []string     `json:"applied"`
	Rejects     []HunkReject `json:"rejects,omitempty"`
	FailedHunks int          `json:"failed_hunks,omitempty"`
	// Notes carries informational annotations such as fuzzy-match placements.
	Notes []string `json:"notes,omitempty"`
}

func (r *ApplyResult) OK() bool { return len(r.Rejects) == 0 }

// Engine applies diffs under a working directory root. It snapshots original
// file contents before the first mutation of each path so the whole run can
// be rolled back, and remembers what it wrote so out-of-band changes (for
// example a formatter) can be detected afterwards.
type Engine struct {
	root string
	log  *zap.Logger

	originalContents map[string]string
	originalExisted  map[string]bool
	writtenContents  map[string]string
}

func NewEngine(root string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		root:             root,
		log:              log,
		originalContents: map[string]string{},
		originalExisted:  map[string]bool{},
		writtenContents:  map[string]string{},
	}
}

// OriginalContents exposes the snapshot map for inspection; callers must not
// mutate it.
func (e *Engine) OriginalContents() map[string]string { return e.originalContents }

func (e *Engine) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.root, rel)
}

// rel normalizes a patch path to working-directory-relative form for reports.
func (e *Engine) rel(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	if r, err := filepath.Rel(e.root, p); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return p
}

// Validate parses the diff and checks each file patch without touching disk.
func (e *Engine) Validate(diff string) Validation {
	v := Validation{}
	patches, err := Parse(diff)
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
		return v
	}
	v.FilesChanged = len(patches)

	for _, fp := range patches {
		target := e.rel(fp.TargetPath())
		v.TotalHunks += len(fp.Hunks)
		for _, h := range fp.Hunks {
			v.Additions += len(h.Additions)
			v.Deletions += len(h.Removals)
		}

		if fp.IsCreate() {
			continue
		}
		content, err := os.ReadFile(e.abs(fp.TargetPath()))
		if err != nil {
			v.Errors = append(v.Errors, fmt.Sprintf("%s: target file not readable: %v", target, err))
			continue
		}
		if fp.OriginalHash != "" {
			got := hashutil.Short(content)
			if !hashutil.Matches(fp.OriginalHash, got) {
				v.Errors = append(v.Errors, fmt.Sprintf("%s: content hash mismatch (have %s, patch expects %s)", target, got, fp.OriginalHash))
				continue
			}
		}
		fileLines := strings.Count(string(content), "\n") + 1
		for i, h := range fp.Hunks {
			touched := len(h.Removals) + len(h.Additions)
			if fileLines > 0 && float64(touched)/float64(fileLines) > warnHunkFileFraction {
				v.Warnings = append(v.Warnings, fmt.Sprintf("%s: hunk %d modifies more than %.0f%% of the file", target, i+1, warnHunkFileFraction*100))
			}
		}
	}
	if v.Additions > warnMaxAdditions {
		v.Warnings = append(v.Warnings, fmt.Sprintf("diff adds %d lines (over %d)", v.Additions, warnMaxAdditions))
	}
	if v.Deletions > warnMaxDeletions {
		v.Warnings = append(v.Warnings, fmt.Sprintf("diff deletes %d lines (over %d)", v.Deletions, warnMaxDeletions))
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// Apply applies the diff file patch by file patch, in input order. Hunks
// within a file are applied in descending OriginalStart order so earlier
// line numbers stay valid. A file with any rejected hunk is left unmodified.
func (e *Engine) Apply(diff string) (*ApplyResult, error) {
	patches, err := Parse(diff)
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{}
	for _, fp := range patches {
		e.applyFilePatch(fp, res)
	}
	return res, nil
}

func (e *Engine) applyFilePatch(fp FilePatch, res *ApplyResult) {
	target := e.rel(fp.TargetPath())
	abs := e.abs(fp.TargetPath())

	switch {
	case fp.IsCreate():
		var lines []string
		for _, h := range fp.Hunks {
			lines = append(lines, h.Additions...)
		}
		content := strings.Join(lines, "\n")
		e.snapshot(abs)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			res.Rejects = append(res.Rejects, HunkReject{File: target, Reason: err.Error()})
			return
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			res.Rejects = append(res.Rejects, HunkReject{File: target, Reason: err.Error()})
			return
		}
		e.writtenContents[abs] = content
		res.Applied = append(res.Applied, target)

	case fp.IsDelete():
		if _, err := os.Stat(abs); err != nil {
			// Deleting a missing file is a no-op; reapplying a delete stays
			// idempotent.
			res.Applied = append(res.Applied, target)
			return
		}
		e.snapshot(abs)
		if err := os.Remove(abs); err != nil {
			res.Rejects = append(res.Rejects, HunkReject{File: target, Reason: err.Error()})
			return
		}
		delete(e.writtenContents, abs)
		res.Applied = append(res.Applied, target)

	default:
		raw, err := os.ReadFile(abs)
		if err != nil {
			res.Rejects = append(res.Rejects, HunkReject{File: target, Reason: fmt.Sprintf("target file not readable: %v", err)})
			res.FailedHunks += len(fp.Hunks)
			return
		}
		lines := strings.Split(string(raw), "\n")

		ordered := make([]int, len(fp.Hunks))
		for i := range ordered {
			ordered[i] = i
		}
		// Descending OriginalStart so earlier hunks' indices remain valid.
		for i := 0; i < len(ordered); i++ {
			for j := i + 1; j < len(ordered); j++ {
				if fp.Hunks[ordered[j]].OriginalStart > fp.Hunks[ordered[i]].OriginalStart {
					ordered[i], ordered[j] = ordered[j], ordered[i]
				}
			}
		}

		working := lines
		var rejects []HunkReject
		var notes []string
		for _, hi := range ordered {
			h := fp.Hunks[hi]
			next, note, err := applyHunk(working, h)
			if err != nil {
				rejects = append(rejects, HunkReject{File: target, Hunk: hi + 1, Reason: err.Error()})
				continue
			}
			if note != "" {
				notes = append(notes, fmt.Sprintf("%s hunk %d: %s", target, hi+1, note))
			}
			working = next
		}
		if len(rejects) > 0 {
			// Atomic per-file apply: any reject leaves the file untouched.
			res.Rejects = append(res.Rejects, rejects...)
			res.FailedHunks += len(rejects)
			return
		}
		e.snapshot(abs)
		content := strings.Join(working, "\n")
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			res.Rejects = append(res.Rejects, HunkReject{File: target, Reason: err.Error()})
			return
		}
		e.writtenContents[abs] = content
		res.Applied = append(res.Applied, target)
		res.Notes = append(res.Notes, notes...)
	}
}

// applyHunk places one hunk into lines, returning the new line slice and an
// informational note when a fuzzy placement was used.
func applyHunk(lines []string, h Hunk) ([]string, string, error) {
	expected := h.OriginalLines()
	replacement := h.ReplacementLines()
	pos := h.OriginalStart - 1
	if pos < 0 {
		pos = 0
	}

	if len(expected) == 0 {
		// Pure insertion with no context anchors at the stated position.
		if pos > len(lines) {
			pos = len(lines)
		}
		out := make([]string, 0, len(lines)+len(replacement))
		out = append(out, lines[:pos]...)
		out = append(out, replacement...)
		out = append(out, lines[pos:]...)
		return out, "", nil
	}

	if matchExact(lines, pos, expected) {
		return splice(lines, pos, len(expected), replacement), "", nil
	}

	bestPos, bestScore := -1, 0.0
	for off := -fuzzyRadius; off <= fuzzyRadius; off++ {
		p := pos + off
		if p < 0 || p+len(expected) > len(lines) {
			continue
		}
		s := windowSimilarity(lines, p, expected)
		if s > bestScore {
			bestScore, bestPos = s, p
		}
	}
	if bestPos >= 0 && bestScore >= fuzzyThreshold {
		note := fmt.Sprintf("fuzzy match at line %d (similarity %.2f)", bestPos+1, bestScore)
		return splice(lines, bestPos, len(expected), replacement), note, nil
	}
	return nil, "", fmt.Errorf("no match for hunk at line %d (best similarity %.2f)", h.OriginalStart, bestScore)
}

func matchExact(lines []string, pos int, expected []string) bool {
	if pos < 0 || pos+len(expected) > len(lines) {
		return false
	}
	for i, want := range expected {
		if strings.TrimRight(lines[pos+i], " \t") != strings.TrimRight(want, " \t") {
			return false
		}
	}
	return true
}

func windowSimilarity(lines []string, pos int, expected []string) float64 {
	match := 0
	for i, want := range expected {
		if strings.TrimSpace(lines[pos+i]) == strings.TrimSpace(want) {
			match++
		}
	}
	return float64(match) / float64(len(expected))
}

func splice(lines []string, pos, count int, replacement []string) []string {
	out := make([]string, 0, len(lines)-count+len(replacement))
	out = append(out, lines[:pos]...)
	out = append(out, replacement...)
	out = append(out, lines[pos+count:]...)
	return out
}

// snapshot records a path's pre-mutation content once. Missing files are
// recorded as non-existent so rollback can remove a created file.
func (e *Engine) snapshot(abs string) {
	if _, ok := e.originalExisted[abs]; ok {
		return
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		e.originalExisted[abs] = false
		return
	}
	e.originalExisted[abs] = true
	e.originalContents[abs] = string(b)
}

// Rollback restores every mutated path to its snapshot and clears the
// snapshot maps. Calling it twice is a no-op the second time.
func (e *Engine) Rollback() error {
	var firstErr error
	for abs, existed := range e.originalExisted {
		if !existed {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		if err := os.WriteFile(abs, []byte(e.originalContents[abs]), 0o644); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil && len(e.originalExisted) > 0 {
		e.log.Info("rolled back patched files", zap.Int("files", len(e.originalExisted)))
	}
	e.originalContents = map[string]string{}
	e.originalExisted = map[string]bool{}
	e.writtenContents = map[string]string{}
	return firstErr
}

// FormatterDiff compares on-disk content against what the engine last wrote
// and returns a unified diff describing any external changes, or "" if none.
func (e *Engine) FormatterDiff() string {
	var b strings.Builder
	for abs, want := range e.writtenContents {
		raw, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		got := string(raw)
		if got == want {
			continue
		}
		b.WriteString(renderSimpleDiff(e.rel(abs), want, got))
	}
	return b.String()
}

// renderSimpleDiff emits a single-hunk unified diff covering the changed
// region between two versions of one file.
func renderSimpleDiff(relPath, oldText, newText string) string {
	oldLines := strings.Split(oldText, "\n")
	newLines := strings.Split(newText, "\n")

	pre := 0
	for pre < len(oldLines) && pre < len(newLines) && oldLines[pre] == newLines[pre] {
		pre++
	}
	post := 0
	for post < len(oldLines)-pre && post < len(newLines)-pre &&
		oldLines[len(oldLines)-1-post] == newLines[len(newLines)-1-post] {
		post++
	}
	oldMid := oldLines[pre : len(oldLines)-post]
	newMid := newLines[pre : len(newLines)-post]

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", relPath, relPath)
	fmt.Fprintf(&b, "@@ -%s +%s @@\n", renderRange(pre+1, len(oldMid)), renderRange(pre+1, len(newMid)))
	for _, l := range oldMid {
		b.WriteString("-" + l + "\n")
	}
	for _, l := range newMid {
		b.WriteString("+" + l + "\n")
	}
	return b.String()
}
