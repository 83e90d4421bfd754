package index

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Token cost is estimated at one quarter of the character count.
const charsPerToken = 4

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"you": true, "your": true, "not": true, "but": true, "all": true,
	"can": true, "has": true, "have": true, "should": true, "when": true,
	"where": true, "which": true, "will": true, "into": true, "its": true,
	"use": true, "make": true, "add": true, "fix": true, "change": true,
	"update": true, "file": true, "code": true,
}

var (
	wordRe     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)
	fileLikeRe = regexp.MustCompile("[`'\"]?([A-Za-z0-9_./-]+\\.[A-Za-z0-9_]+)[`'\"]?")
)

type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EmitLevel describes how much of a file a retrieval entry carries.
type EmitLevel string

const (
	EmitFull     EmitLevel = "full"
	EmitExcerpts EmitLevel = "excerpts"
	EmitPathOnly EmitLevel = "path_only"
)

type RetrievedFile struct {
	Path     string      `json:"path"`
	Hash     string      `json:"hash"`
	Level    EmitLevel   `json:"level"`
	Content  string      `json:"content,omitempty"`
	Excerpts []LineRange `json:"excerpts,omitempty"`
	Score    float64     `json:"score"`
	Tokens   int         `json:"tokens"`
}

type RetrievalResult struct {
	Goal       string          `json:"goal"`
	Budget     int             `json:"budget"`
	TokenCount int             `json:"token_count"`
	Files      []RetrievedFile `json:"files"`
}

// Retrieve ranks indexed files against the goal's key terms and file
// mentions and emits them in descending score until the token budget runs
// out. The first file that would overflow is emitted as hit-line excerpts;
// later files carry only path and hash. Config and guide files are always
// appended, paths only.
func (e *Engine) Retrieve(goal string, budgetTokens int) *RetrievalResult {
	terms, mentions := goalTerms(goal)
	mentioned := e.matchMentions(mentions)

	type scored struct {
		path  string
		score float64
	}
	var ranked []scored
	for path, fc := range e.Files {
		s := e.scoreFile(path, fc, terms, mentioned)
		if s > 0 {
			ranked = append(ranked, scored{path, s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].path < ranked[j].path
	})

	res := &RetrievalResult{Goal: goal, Budget: budgetTokens}
	overflowed := false
	for _, sc := range ranked {
		fc := e.Files[sc.path]
		rel := e.Rel(sc.path)
		switch {
		case !overflowed:
			cost := len(fc.Content) / charsPerToken
			if res.TokenCount+cost <= budgetTokens {
				res.Files = append(res.Files, RetrievedFile{
					Path: rel, Hash: fc.Hash, Level: EmitFull,
					Content: fc.Content, Score: sc.score, Tokens: cost,
				})
				res.TokenCount += cost
				continue
			}
			overflowed = true
			excerpts, text := e.hitExcerpts(fc, terms)
			cost = len(text) / charsPerToken
			res.Files = append(res.Files, RetrievedFile{
				Path: rel, Hash: fc.Hash, Level: EmitExcerpts,
				Content: text, Excerpts: excerpts, Score: sc.score, Tokens: cost,
			})
			res.TokenCount += cost
		default:
			res.Files = append(res.Files, RetrievedFile{
				Path: rel, Hash: fc.Hash, Level: EmitPathOnly, Score: sc.score,
			})
		}
	}

	seen := map[string]bool{}
	for _, f := range res.Files {
		seen[f.Path] = true
	}
	for _, path := range append(append([]string{}, e.ConfigFiles...), e.GuideFiles...) {
		rel := e.Rel(path)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		fc := e.Files[path]
		hash := ""
		if fc != nil {
			hash = fc.Hash
		}
		res.Files = append(res.Files, RetrievedFile{Path: rel, Hash: hash, Level: EmitPathOnly})
	}
	return res
}

// goalTerms splits the goal into lowercase key terms (length >= 3, minus
// stop words) and file-like mentions (quoted or dotted path tokens).
func goalTerms(goal string) (terms []string, mentions []string) {
	seen := map[string]bool{}
	for _, w := range wordRe.FindAllString(strings.ToLower(goal), -1) {
		if stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	for _, m := range fileLikeRe.FindAllStringSubmatch(goal, -1) {
		mentions = append(mentions, m[1])
	}
	return terms, mentions
}

// matchMentions resolves file-like goal tokens to indexed paths.
func (e *Engine) matchMentions(mentions []string) map[string]bool {
	out := map[string]bool{}
	for _, m := range mentions {
		ml := strings.ToLower(m)
		for path := range e.Files {
			rel := strings.ToLower(e.Rel(path))
			if rel == ml || strings.HasSuffix(rel, "/"+ml) || strings.ToLower(strings.TrimPrefix(ml, "./")) == rel {
				out[path] = true
			}
		}
	}
	return out
}

func (e *Engine) scoreFile(path string, fc *FileContext, terms []string, mentioned map[string]bool) float64 {
	score := 0.0
	if mentioned[path] {
		score += 10
	}
	nameLower := strings.ToLower(e.Rel(path))
	contentLower := strings.ToLower(fc.Content)
	for _, t := range terms {
		if strings.Contains(nameLower, t) {
			score += 2
		}
		if c := strings.Count(contentLower, t); c > 0 {
			pts := 0.5 * float64(c)
			if pts > 5 {
				pts = 5
			}
			score += pts
		}
	}
	for _, s := range fc.Symbols {
		symLower := strings.ToLower(s.Name)
		docLower := strings.ToLower(s.Docstring)
		for _, t := range terms {
			if strings.Contains(symLower, t) {
				score += 3
			}
			if docLower != "" && strings.Contains(docLower, t) {
				score += 1
			}
		}
	}
	// Import-graph adjacency to a mentioned file.
	for m := range mentioned {
		if e.ImportGraph[path][m] || e.ImportGraph[m][path] {
			score += 1.5
		}
	}
	return score
}

// hitExcerpts returns the line ranges containing term hits, with
// neighbourhoods merged when within one line, plus the excerpt text.
func (e *Engine) hitExcerpts(fc *FileContext, terms []string) ([]LineRange, string) {
	fileLines := strings.Split(fc.Content, "\n")
	var hits []int
	for i, line := range fileLines {
		ll := strings.ToLower(line)
		for _, t := range terms {
			if strings.Contains(ll, t) {
				hits = append(hits, i+1)
				break
			}
		}
	}
	if len(hits) == 0 {
		return nil, ""
	}
	var ranges []LineRange
	cur := LineRange{Start: hits[0], End: hits[0]}
	for _, h := range hits[1:] {
		if h-cur.End <= 2 {
			cur.End = h
			continue
		}
		ranges = append(ranges, cur)
		cur = LineRange{Start: h, End: h}
	}
	ranges = append(ranges, cur)

	var b strings.Builder
	for _, r := range ranges {
		fmt.Fprintf(&b, "@@ lines %d-%d @@\n", r.Start, r.End)
		for i := r.Start; i <= r.End && i <= len(fileLines); i++ {
			b.WriteString(fileLines[i-1] + "\n")
		}
	}
	return ranges, b.String()
}

// RenderPrompt flattens a retrieval result into prompt text.
func (r *RetrievalResult) RenderPrompt() string {
	var b strings.Builder
	for _, f := range r.Files {
		switch f.Level {
		case EmitFull:
			fmt.Fprintf(&b, "=== %s (hash %s) ===\n%s\n", f.Path, f.Hash, f.Content)
		case EmitExcerpts:
			fmt.Fprintf(&b, "=== %s (hash %s, excerpts) ===\n%s\n", f.Path, f.Hash, f.Content)
		default:
			fmt.Fprintf(&b, "=== %s (hash %s, content omitted) ===\n", f.Path, f.Hash)
		}
	}
	return b.String()
}
