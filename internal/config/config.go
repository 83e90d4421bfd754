// Package config assembles the runtime configuration from four layers, each
// overriding the one below: environment variables, the project config file,
// the user-global config file, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	userConfigRel    = "patchloop/config.toml"
	projectConfigRel = ".patchloop.toml"
)

// Limits bound one task's resource use.
type Limits struct {
	MaxDuration  time.Duration `toml:"-"`
	MaxDurationS int           `toml:"max_duration_s"`
	MaxTokens    int           `toml:"max_tokens"`
	MaxRetries   int           `toml:"max_retries"`
}

// Config is the merged runtime configuration.
type Config struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`

	PolicyFile string `toml:"policy_file"`
	TraceDir   string `toml:"trace_dir"`
	Verbose    bool   `toml:"verbose"`

	Limits Limits `toml:"limits"`
}

// Default is the bottom layer.
func Default() Config {
	return Config{
		Provider: "openai",
		Model:    "gpt-4o",
		BaseURL:  "https://api.openai.com/v1",
		TraceDir: ".patchloop",
		Limits: Limits{
			MaxDurationS: 1800,
			MaxTokens:    200_000,
			MaxRetries:   5,
		},
	}
}

// Load merges defaults, the user-global file, the project file under
// projectDir, and environment variables. Missing files are not errors.
func Load(projectDir string) (Config, error) {
	cfg := Default()

	if userDir, err := os.UserConfigDir(); err == nil {
		if err := mergeFile(&cfg, filepath.Join(userDir, userConfigRel)); err != nil {
			return cfg, err
		}
	}
	if err := mergeFile(&cfg, filepath.Join(projectDir, projectConfigRel)); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)

	cfg.Limits.MaxDuration = time.Duration(cfg.Limits.MaxDurationS) * time.Second
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLForProvider(cfg.Provider)
	}
	return cfg, nil
}

// LoadFile loads one explicit config file over the defaults, still letting
// the environment override. The file must exist.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	cfg.Limits.MaxDuration = time.Duration(cfg.Limits.MaxDurationS) * time.Second
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURLForProvider(cfg.Provider)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv is the top layer. Provider-specific key variables are consulted
// only when no explicit key is set.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PATCHLOOP_PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(strings.TrimSpace(v))
		cfg.BaseURL = baseURLForProvider(cfg.Provider)
	}
	if v := os.Getenv("PATCHLOOP_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PATCHLOOP_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PATCHLOOP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if cfg.APIKey == "" {
		switch cfg.Provider {
		case "anthropic":
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := os.Getenv("PATCHLOOP_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
	if v := os.Getenv("PATCHLOOP_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.MaxTokens = n
		}
	}
	if v := os.Getenv("PATCHLOOP_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Limits.MaxRetries = n
		}
	}
}

func baseURLForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "https://api.anthropic.com/v1"
	default:
		return "https://api.openai.com/v1"
	}
}
