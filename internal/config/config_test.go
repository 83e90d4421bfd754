package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsWhenNothingConfigured(t *testing.T) {
	t.Setenv("PATCHLOOP_PROVIDER", "")
	t.Setenv("PATCHLOOP_MODEL", "")
	t.Setenv("PATCHLOOP_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Limits.MaxDuration != 30*time.Minute || cfg.Limits.MaxRetries != 5 {
		t.Fatalf("limits = %+v", cfg.Limits)
	}
}

func TestProjectFileOverridesDefaults(t *testing.T) {
	t.Setenv("PATCHLOOP_PROVIDER", "")
	t.Setenv("PATCHLOOP_MODEL", "")
	t.Setenv("PATCHLOOP_MAX_TOKENS", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	body := "model = \"local-model\"\n\n[limits]\nmax_tokens = 5000\nmax_duration_s = 60\n"
	if err := os.WriteFile(filepath.Join(dir, ".patchloop.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "local-model" {
		t.Fatalf("model = %q", cfg.Model)
	}
	if cfg.Limits.MaxTokens != 5000 || cfg.Limits.MaxDuration != time.Minute {
		t.Fatalf("limits = %+v", cfg.Limits)
	}
	// Untouched keys keep their defaults.
	if cfg.Provider != "openai" {
		t.Fatalf("provider = %q", cfg.Provider)
	}
}

func TestEnvOverridesFiles(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".patchloop.toml"), []byte("model = \"from-file\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATCHLOOP_PROVIDER", "anthropic")
	t.Setenv("PATCHLOOP_MODEL", "from-env")
	t.Setenv("PATCHLOOP_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-env" || cfg.Provider != "anthropic" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.APIKey != "sk-ant-test" {
		t.Fatalf("api key = %q", cfg.APIKey)
	}
	if cfg.BaseURL != "https://api.anthropic.com/v1" {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
}

func TestBrokenTOMLIsAnError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".patchloop.toml"), []byte("model = [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}
