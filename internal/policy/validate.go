package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vsavkov/patchloop/internal/patch"
)

// PlanCheck is the policy-relevant projection of a proposed plan.
type PlanCheck struct {
	Files              []string
	AddDependencies    []string
	RemoveDependencies []string
	Commands           []string
}

// ValidatePlan gates a plan before any edit is attempted: every named file
// must pass the path rules, every new dependency the dependency rules, and
// every planned command the command rules.
func (e *Engine) ValidatePlan(p PlanCheck) *Result {
	res := newResult()
	for _, f := range p.Files {
		if ok, reason := e.pathAllowed(f); !ok {
			res.violate("plan touches disallowed file: %s", reason)
		}
	}
	for _, d := range p.AddDependencies {
		if ok, reason := e.dependencyAllowed(d); !ok {
			res.violate("plan adds disallowed dependency: %s", reason)
		}
	}
	cmdRes := e.ValidateCommands(p.Commands)
	res.Violations = append(res.Violations, cmdRes.Violations...)
	res.Warnings = append(res.Warnings, cmdRes.Warnings...)
	if len(res.Violations) > 0 {
		res.IsValid = false
	}
	res.Reasons = append(res.Reasons, fmt.Sprintf("plan: %d files, %d new deps, %d commands checked", len(p.Files), len(p.AddDependencies), len(p.Commands)))
	return res
}

// ValidateDiff parses the diff itself and applies the rule set per file and
// per added line.
func (e *Engine) ValidateDiff(diff string) *Result {
	res := newResult()
	patches, err := patch.Parse(diff)
	if err != nil {
		res.violate("unparseable diff: %v", err)
		return res
	}

	if e.cfg.MaxFilesChanged > 0 && len(patches) > e.cfg.MaxFilesChanged {
		res.warn("diff changes %d files (limit %d)", len(patches), e.cfg.MaxFilesChanged)
	}

	totalLines := 0
	for _, fp := range patches {
		rel := strings.TrimPrefix(fp.TargetPath(), "./")

		if ok, reason := e.pathAllowed(rel); !ok {
			res.violate("%s", reason)
		}
		if fp.IsDelete() && isSensitiveFile(rel) {
			res.violate("deletion of sensitive file %s is forbidden", rel)
		}
		if e.cfg.ForbidLicenseChanges && licenseFileRe.MatchString(rel) {
			res.violate("license file %s must not be modified", rel)
		}

		fileAdded := 0
		for _, h := range fp.Hunks {
			totalLines += len(h.Additions) + len(h.Removals)
			fileAdded += len(h.Additions)
			for _, line := range h.Additions {
				e.checkAddedLine(res, rel, line)
			}
		}
		if e.cfg.MaxFileSize > 0 && fileAdded > e.cfg.MaxFileSize {
			res.warn("%s gains %d lines (limit %d)", rel, fileAdded, e.cfg.MaxFileSize)
		}

		if re := dependencyAddRe[strings.ToLower(filepath.Base(rel))]; re != nil {
			for _, h := range fp.Hunks {
				for _, line := range h.Additions {
					if m := re.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
						if ok, reason := e.dependencyAllowed(m[1]); !ok {
							res.violate("%s: %s", rel, reason)
						}
					}
				}
			}
		}
	}
	if e.cfg.MaxDiffSize > 0 && totalLines > e.cfg.MaxDiffSize {
		res.warn("diff touches %d lines (limit %d)", totalLines, e.cfg.MaxDiffSize)
	}

	for _, re := range e.required {
		if !diffMatchesAnywhere(patches, re) {
			res.violate("required pattern %q not found in added lines", re.String())
		}
	}
	return res
}

func (e *Engine) checkAddedLine(res *Result, rel, line string) {
	for _, re := range e.forbidden {
		if re.MatchString(line) {
			res.violate("%s: forbidden pattern %q matched", rel, re.String())
		}
	}
	if e.cfg.ForbidCredentials {
		for _, re := range credentialPatterns {
			if re.MatchString(line) {
				res.violate("%s: credential-like content in added line", rel)
				break
			}
		}
	}
	if e.cfg.ForbidTelemetry {
		for _, re := range telemetryPatterns {
			if re.MatchString(line) {
				res.warn("%s: telemetry/analytics reference in added line", rel)
				break
			}
		}
	}
	if e.cfg.ForbidLicenseChanges && licenseLineRe.MatchString(line) {
		res.violate("%s: license-keyword line changed", rel)
	}
}

func diffMatchesAnywhere(patches []patch.FilePatch, re interface{ MatchString(string) bool }) bool {
	for _, fp := range patches {
		for _, h := range fp.Hunks {
			for _, line := range h.Additions {
				if re.MatchString(line) {
					return true
				}
			}
		}
	}
	return false
}

// ValidateCommands checks a command list against the built-in dangerous
// command rules. Privilege escalation and system-service mutation are
// violations; the rest of the list is advisory.
func (e *Engine) ValidateCommands(cmds []string) *Result {
	res := newResult()
	for _, cmd := range cmds {
		lc := strings.ToLower(cmd)
		for _, bad := range dangerousCommandViolations {
			if strings.Contains(lc, bad) {
				res.violate("command %q: %q is not permitted", cmd, strings.TrimSpace(bad))
			}
		}
		for _, risky := range dangerousCommandWarns {
			if strings.Contains(lc, risky) {
				res.warn("command %q contains risky operation %q", cmd, risky)
			}
		}
	}
	return res
}

func isSensitiveFile(rel string) bool {
	for _, g := range sensitiveFileGlobs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}
