// Package policy decides whether plans, diffs and command lists are allowed
// to reach the world. Decisions are pure functions of (config, input):
// re-validating the same input always yields the same result.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config is the rule set. The zero value permits everything except the
// built-in protections (credentials, sensitive file deletion, dangerous
// commands), which are always active.
type Config struct {
	AllowedPaths []string `yaml:"allowed_paths"`
	DeniedPaths  []string `yaml:"denied_paths"`

	ForbiddenPatterns []string `yaml:"forbidden_patterns"`
	RequiredPatterns  []string `yaml:"required_patterns"`

	AllowedDependencies   []string `yaml:"allowed_dependencies"`
	ForbiddenDependencies []string `yaml:"forbidden_dependencies"`

	MaxFileSize     int `yaml:"max_file_size"`
	MaxDiffSize     int `yaml:"max_diff_size"`
	MaxFilesChanged int `yaml:"max_files_changed"`

	ForbidCredentials    bool `yaml:"forbid_credentials"`
	ForbidTelemetry      bool `yaml:"forbid_telemetry"`
	ForbidLicenseChanges bool `yaml:"forbid_license_changes"`
}

// DefaultConfig enables the safety predicates that should be on for any
// autonomous run.
func DefaultConfig() Config {
	return Config{
		ForbidCredentials:    true,
		ForbidTelemetry:      true,
		ForbidLicenseChanges: true,
	}
}

// LoadConfig reads a rule set from a YAML file layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy config %s: %w", path, err)
	}
	return cfg, nil
}

// Result is the outcome of one validation. IsValid is false iff Violations
// is non-empty; Warnings are advisory.
type Result struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

func newResult() *Result { return &Result{IsValid: true} }

func (r *Result) violate(format string, args ...any) {
	r.IsValid = false
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Engine evaluates the rule set. Regexes are compiled once at construction.
type Engine struct {
	cfg       Config
	forbidden []*regexp.Regexp
	required  []*regexp.Regexp
}

func NewEngine(cfg Config) (*Engine, error) {
	e := &Engine{cfg: cfg}
	for _, p := range cfg.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("forbidden pattern %q: %w", p, err)
		}
		e.forbidden = append(e.forbidden, re)
	}
	for _, p := range cfg.RequiredPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("required pattern %q: %w", p, err)
		}
		e.required = append(e.required, re)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// pathAllowed checks the allow/deny glob lists against a working-directory
// relative path.
func (e *Engine) pathAllowed(rel string) (bool, string) {
	rel = strings.TrimPrefix(rel, "./")
	for _, g := range e.cfg.DeniedPaths {
		if ok, _ := doublestar.Match(g, rel); ok {
			return false, fmt.Sprintf("path %s matches denied glob %s", rel, g)
		}
	}
	if len(e.cfg.AllowedPaths) > 0 {
		for _, g := range e.cfg.AllowedPaths {
			if ok, _ := doublestar.Match(g, rel); ok {
				return true, ""
			}
		}
		return false, fmt.Sprintf("path %s outside allowed globs", rel)
	}
	return true, ""
}

// dependencyAllowed checks a newly added dependency name against the
// allow/deny lists.
func (e *Engine) dependencyAllowed(dep string) (bool, string) {
	for _, d := range e.cfg.ForbiddenDependencies {
		if strings.EqualFold(d, dep) {
			return false, fmt.Sprintf("dependency %s is forbidden", dep)
		}
	}
	if len(e.cfg.AllowedDependencies) > 0 {
		for _, d := range e.cfg.AllowedDependencies {
			if strings.EqualFold(d, dep) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("dependency %s outside allow-list", dep)
	}
	return true, ""
}
