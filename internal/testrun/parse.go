package testrun

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Text-output regexes per framework. JSON output is preferred where the
// framework emits it (go test -json); these cover the rest.
var (
	pytestCountRe  = regexp.MustCompile(`(\d+) (passed|failed|skipped|error|errors)`)
	pytestFailedRe = regexp.MustCompile(`(?m)^FAILED ([^\s:]+)::(\S+?)(?:\s+-\s+(.*))?$`)

	jestSummaryRe = regexp.MustCompile(`(?m)^Tests:\s+(.+)$`)
	jestCountRe   = regexp.MustCompile(`(\d+) (failed|skipped|passed|total)`)
	jestFailRe    = regexp.MustCompile(`(?m)^\s*[✕●]\s+(.+)$`)

	mochaPassRe = regexp.MustCompile(`(\d+) passing`)
	mochaFailRe = regexp.MustCompile(`(\d+) failing`)

	cargoResultRe = regexp.MustCompile(`test result: (ok|FAILED)\. (\d+) passed; (\d+) failed;(?: \d+ ignored;)?`)
	cargoFailRe   = regexp.MustCompile(`(?m)^---- (\S+) stdout ----$`)
)

func parseOutput(framework, output string) *Report {
	switch framework {
	case "pytest":
		return parsePytest(output)
	case "jest":
		return parseJest(output)
	case "mocha":
		return parseMocha(output)
	case "cargo":
		return parseCargo(output)
	case "go":
		return parseGoJSON(output)
	default:
		return &Report{}
	}
}

func parsePytest(output string) *Report {
	rep := &Report{}
	for _, m := range pytestCountRe.FindAllStringSubmatch(output, -1) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "passed":
			rep.Passed = n
		case "failed":
			rep.Failed = n
		case "skipped":
			rep.Skipped = n
		case "error", "errors":
			rep.Failed += n
		}
	}
	for _, m := range pytestFailedRe.FindAllStringSubmatch(output, -1) {
		f := Failure{File: m[1], Name: m[2], Message: m[3]}
		f.Snippet = snippetAround(output, "FAILED "+m[1])
		rep.Failures = append(rep.Failures, f)
	}
	rep.Total = rep.Passed + rep.Failed + rep.Skipped
	rep.Success = rep.Total > 0 && rep.Failed == 0
	return rep
}

func parseJest(output string) *Report {
	rep := &Report{}
	if m := jestSummaryRe.FindStringSubmatch(output); m != nil {
		for _, c := range jestCountRe.FindAllStringSubmatch(m[1], -1) {
			n, _ := strconv.Atoi(c[1])
			switch c[2] {
			case "failed":
				rep.Failed = n
			case "skipped":
				rep.Skipped = n
			case "passed":
				rep.Passed = n
			case "total":
				rep.Total = n
			}
		}
	}
	for _, m := range jestFailRe.FindAllStringSubmatch(output, -1) {
		name := strings.TrimSpace(m[1])
		rep.Failures = append(rep.Failures, Failure{
			Name:    name,
			Snippet: snippetAround(output, name),
		})
	}
	if rep.Total == 0 {
		rep.Total = rep.Passed + rep.Failed + rep.Skipped
	}
	rep.Success = rep.Total > 0 && rep.Failed == 0
	return rep
}

func parseMocha(output string) *Report {
	rep := &Report{}
	if m := mochaPassRe.FindStringSubmatch(output); m != nil {
		rep.Passed, _ = strconv.Atoi(m[1])
	}
	if m := mochaFailRe.FindStringSubmatch(output); m != nil {
		rep.Failed, _ = strconv.Atoi(m[1])
	}
	rep.Total = rep.Passed + rep.Failed
	rep.Success = rep.Total > 0 && rep.Failed == 0
	return rep
}

func parseCargo(output string) *Report {
	rep := &Report{}
	for _, m := range cargoResultRe.FindAllStringSubmatch(output, -1) {
		p, _ := strconv.Atoi(m[2])
		f, _ := strconv.Atoi(m[3])
		rep.Passed += p
		rep.Failed += f
	}
	for _, m := range cargoFailRe.FindAllStringSubmatch(output, -1) {
		rep.Failures = append(rep.Failures, Failure{
			Name:    m[1],
			Snippet: snippetAround(output, "---- "+m[1]+" stdout ----"),
		})
	}
	rep.Total = rep.Passed + rep.Failed
	rep.Success = rep.Total > 0 && rep.Failed == 0
	return rep
}

// goEvent is one line of `go test -json` output.
type goEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
	Output  string `json:"Output"`
}

func parseGoJSON(output string) *Report {
	rep := &Report{}
	failOutput := map[string][]string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var ev goEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Test == "" {
			continue
		}
		key := ev.Package + "." + ev.Test
		switch ev.Action {
		case "pass":
			rep.Passed++
		case "fail":
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{
				Name:    ev.Test,
				File:    ev.Package,
				Snippet: strings.Join(failOutput[key], ""),
			})
		case "skip":
			rep.Skipped++
		case "output":
			failOutput[key] = append(failOutput[key], ev.Output)
		}
	}
	rep.Total = rep.Passed + rep.Failed + rep.Skipped
	rep.Success = rep.Total > 0 && rep.Failed == 0
	return rep
}

// snippetAround returns the lines surrounding the first line containing
// marker: three before and ten after.
func snippetAround(output, marker string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if strings.Contains(line, marker) {
			lo := max(i-3, 0)
			hi := min(i+10+1, len(lines))
			return strings.Join(lines[lo:hi], "\n")
		}
	}
	return ""
}
