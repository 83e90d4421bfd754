package modeladapter

import "strings"

// ExtractJSON pulls the first JSON object out of free-form model output,
// preferring fenced blocks. Returns "" when no balanced object exists.
func ExtractJSON(text string) string {
	if fenced := fencedBlock(text, "json"); fenced != "" {
		return fenced
	}
	if fenced := fencedBlock(text, ""); fenced != "" && strings.HasPrefix(strings.TrimSpace(fenced), "{") {
		return strings.TrimSpace(fenced)
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ExtractDiff strips code fences and returns the reply from its first diff
// header onward. When no header exists the text comes back unchanged so the
// caller can treat it as a prose answer.
func ExtractDiff(text string) string {
	body := text
	if fenced := fencedBlock(text, "diff"); fenced != "" {
		body = fenced
	} else if fenced := fencedBlock(text, ""); strings.HasPrefix(fenced, "--- ") || strings.Contains(fenced, "\n--- ") {
		body = fenced
	}
	if i := strings.Index(body, "--- "); i >= 0 {
		if i == 0 || body[i-1] == '\n' {
			out := body[i:]
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			return out
		}
	}
	return text
}

// fencedBlock returns the contents of the first ``` block with the given
// language tag ("" accepts any tag).
func fencedBlock(text, lang string) string {
	marker := "```"
	for {
		start := strings.Index(text, marker)
		if start < 0 {
			return ""
		}
		rest := text[start+len(marker):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return ""
		}
		tag := strings.TrimSpace(rest[:nl])
		body := rest[nl+1:]
		end := strings.Index(body, marker)
		if end < 0 {
			return ""
		}
		if lang == "" || tag == lang {
			return strings.TrimRight(body[:end], "\n") + "\n"
		}
		text = body[end+len(marker):]
	}
}
