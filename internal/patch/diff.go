// Package patch parses unified diffs and applies them to a working directory
// with exact-then-fuzzy hunk matching. It is the only package that mutates
// files under the working directory, and the only one that can undo those
// mutations.
package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vsavkov/patchloop/internal/hashutil"
)

// DevNull is the sentinel path denoting file creation (as the original side)
// or deletion (as the modified side).
const DevNull = "/dev/null"

// Hunk is one contiguous change block. Line lists preserve order and
// whitespace exactly as parsed.
type Hunk struct {
	OriginalStart int
	OriginalCount int
	ModifiedStart int
	ModifiedCount int
	ContextBefore []string
	Removals      []string
	Additions     []string
	ContextAfter  []string
}

type FilePatch struct {
	OriginalFile string
	ModifiedFile string
	OriginalHash string
	Hunks        []Hunk
}

func (fp *FilePatch) IsCreate() bool { return fp.OriginalFile == DevNull }
func (fp *FilePatch) IsDelete() bool { return fp.ModifiedFile == DevNull }

// isShortHash reports whether h has the exact length and alphabet of a
// hashutil short hash.
func isShortHash(h string) bool {
	if len(h) != hashutil.ShortLen {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// TargetPath is the working-directory-relative path the patch acts on.
func (fp *FilePatch) TargetPath() string {
	if fp.IsCreate() {
		return fp.ModifiedFile
	}
	return fp.OriginalFile
}

// Parse splits a unified diff into per-file patches. Headers are
// `--- from` / `+++ to` with optional `a/`/`b/` prefixes; an optional
// `index <old>..<new>` line supplies the original content hash, but only
// when <old> is one of our own short hashes — git SHA-1 prefixes on
// LLM-emitted diffs are not comparable to blake3 and are skipped. Lines
// inside hunks are prefixed ' ', '-', '+' or '\' (the no-newline marker,
// which is ignored).
func Parse(diff string) ([]FilePatch, error) {
	lines := strings.Split(diff, "\n")
	var patches []FilePatch
	var cur *FilePatch
	pendingHash := ""

	flush := func() {
		if cur != nil && (len(cur.Hunks) > 0 || cur.IsCreate() || cur.IsDelete()) {
			patches = append(patches, *cur)
		}
		cur = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "index "):
			rest := strings.TrimPrefix(line, "index ")
			if j := strings.Index(rest, ".."); j > 0 {
				if h := strings.TrimSpace(rest[:j]); isShortHash(h) {
					pendingHash = h
				}
			}
		case strings.HasPrefix(line, "--- "):
			flush()
			cur = &FilePatch{
				OriginalFile: cleanDiffPath(strings.TrimPrefix(line, "--- ")),
				OriginalHash: pendingHash,
			}
			pendingHash = ""
		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				return nil, fmt.Errorf("line %d: '+++' without preceding '---'", i+1)
			}
			cur.ModifiedFile = cleanDiffPath(strings.TrimPrefix(line, "+++ "))
		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return nil, fmt.Errorf("line %d: hunk header outside a file patch", i+1)
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			consumed, err := parseHunkBody(&h, lines[i+1:])
			if err != nil {
				return nil, fmt.Errorf("hunk at line %d: %w", i+1, err)
			}
			i += consumed
			cur.Hunks = append(cur.Hunks, h)
		}
	}
	flush()

	if len(patches) == 0 {
		return nil, fmt.Errorf("no valid patches found in diff")
	}
	return patches, nil
}

// cleanDiffPath strips the conventional a/ b/ prefixes and any trailing
// timestamp column. Absolute paths are preserved; relative paths stay
// working-directory-relative.
func cleanDiffPath(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	if s == DevNull {
		return s
	}
	for _, pre := range []string{"a/", "b/"} {
		if strings.HasPrefix(s, pre) {
			return s[len(pre):]
		}
	}
	return s
}

func parseHunkHeader(line string) (Hunk, error) {
	// @@ -os[,oc] +ms[,mc] @@ optional-section
	body := strings.TrimPrefix(line, "@@")
	if j := strings.Index(body, "@@"); j >= 0 {
		body = body[:j]
	}
	fields := strings.Fields(body)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "-") || !strings.HasPrefix(fields[1], "+") {
		return Hunk{}, fmt.Errorf("malformed hunk header %q", line)
	}
	os, oc, err := parseRange(strings.TrimPrefix(fields[0], "-"))
	if err != nil {
		return Hunk{}, err
	}
	ms, mc, err := parseRange(strings.TrimPrefix(fields[1], "+"))
	if err != nil {
		return Hunk{}, err
	}
	return Hunk{OriginalStart: os, OriginalCount: oc, ModifiedStart: ms, ModifiedCount: mc}, nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		count, err = strconv.Atoi(s[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("bad hunk range %q", s)
		}
		s = s[:i]
	}
	start, err = strconv.Atoi(s)
	if err != nil {
		return 0, 0, fmt.Errorf("bad hunk range %q", s)
	}
	return start, count, nil
}

// parseHunkBody consumes body lines following a hunk header and returns how
// many input lines it used. Context lines before the first change go to
// ContextBefore, after the last change to ContextAfter. Context sandwiched
// between change runs is folded into both sides so matching and replacement
// stay correct. The body is bounded by the header counts, which is what
// disambiguates a following "--- next/file" header from a removal line.
func parseHunkBody(h *Hunk, rest []string) (int, error) {
	consumed := 0
	seenChange := false
	origSeen, modSeen := 0, 0
	for _, line := range rest {
		if origSeen >= h.OriginalCount && modSeen >= h.ModifiedCount {
			break
		}
		// Empty context lines inside a hunk arrive as " "; a truly empty line
		// ends the hunk body.
		if len(line) == 0 {
			break
		}
		switch line[0] {
		case ' ':
			text := line[1:]
			if !seenChange {
				h.ContextBefore = append(h.ContextBefore, text)
			} else {
				h.ContextAfter = append(h.ContextAfter, text)
			}
			origSeen++
			modSeen++
		case '-':
			if len(h.ContextAfter) > 0 {
				h.foldTrailingContext()
			}
			h.Removals = append(h.Removals, line[1:])
			seenChange = true
			origSeen++
		case '+':
			if len(h.ContextAfter) > 0 {
				h.foldTrailingContext()
			}
			h.Additions = append(h.Additions, line[1:])
			seenChange = true
			modSeen++
		case '\\':
			// "\ No newline at end of file"
		default:
			return consumed, nil
		}
		consumed++
	}
	return consumed, nil
}

// foldTrailingContext moves provisional trailing context into both the
// removal and addition streams when another change line follows it. The
// lines exist on both sides, so matching and replacement are unaffected.
func (h *Hunk) foldTrailingContext() {
	h.Removals = append(h.Removals, h.ContextAfter...)
	h.Additions = append(h.Additions, h.ContextAfter...)
	h.ContextAfter = nil
}

// OriginalLines is the sequence the hunk expects to find in the original
// file: leading context, removed lines, trailing context.
func (h *Hunk) OriginalLines() []string {
	out := make([]string, 0, len(h.ContextBefore)+len(h.Removals)+len(h.ContextAfter))
	out = append(out, h.ContextBefore...)
	out = append(out, h.Removals...)
	out = append(out, h.ContextAfter...)
	return out
}

// ReplacementLines is what the matched window is replaced with.
func (h *Hunk) ReplacementLines() []string {
	out := make([]string, 0, len(h.ContextBefore)+len(h.Additions)+len(h.ContextAfter))
	out = append(out, h.ContextBefore...)
	out = append(out, h.Additions...)
	out = append(out, h.ContextAfter...)
	return out
}

// ModifiedRange reports the [start, end] line span (1-based, inclusive) the
// hunk touches in the modified file. Pure-deletion hunks collapse to the
// insertion point.
func (h *Hunk) ModifiedRange() (int, int) {
	start := h.ModifiedStart
	end := start + h.ModifiedCount - 1
	if end < start {
		end = start
	}
	return start, end
}

// Render regenerates the canonical unified form of the patches. Parsing the
// output yields hunks byte-equivalent to the input (modulo trailing
// newlines), which the tests rely on.
func Render(patches []FilePatch) string {
	var b strings.Builder
	for _, fp := range patches {
		fmt.Fprintf(&b, "--- %s\n", renderPath(fp.OriginalFile, "a"))
		fmt.Fprintf(&b, "+++ %s\n", renderPath(fp.ModifiedFile, "b"))
		for _, h := range fp.Hunks {
			fmt.Fprintf(&b, "@@ -%s +%s @@\n",
				renderRange(h.OriginalStart, h.OriginalCount),
				renderRange(h.ModifiedStart, h.ModifiedCount))
			for _, l := range h.ContextBefore {
				b.WriteString(" " + l + "\n")
			}
			for _, l := range h.Removals {
				b.WriteString("-" + l + "\n")
			}
			for _, l := range h.Additions {
				b.WriteString("+" + l + "\n")
			}
			for _, l := range h.ContextAfter {
				b.WriteString(" " + l + "\n")
			}
		}
	}
	return b.String()
}

func renderPath(p, prefix string) string {
	if p == DevNull || p == "" || strings.HasPrefix(p, "/") {
		if p == "" {
			return DevNull
		}
		return p
	}
	return prefix + "/" + p
}

func renderRange(start, count int) string {
	if count == 1 {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}
