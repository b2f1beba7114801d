package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalConfig(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
repo: octo/widgets
token-env: GH_PAT
prefix: tmp_
log-level: warn
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg := LoadLocalConfig(tmpDir)
	if cfg.Repo != "octo/widgets" {
		t.Errorf("Repo = %q, want octo/widgets", cfg.Repo)
	}
	if cfg.TokenEnv != "GH_PAT" {
		t.Errorf("TokenEnv = %q, want GH_PAT", cfg.TokenEnv)
	}
	if cfg.Prefix != "tmp_" {
		t.Errorf("Prefix = %q, want tmp_", cfg.Prefix)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadLocalConfigMissingFile(t *testing.T) {
	cfg := LoadLocalConfig(t.TempDir())
	if cfg == nil {
		t.Fatal("LoadLocalConfig returned nil, want empty struct")
	}
	if cfg.Repo != "" {
		t.Errorf("Repo = %q, want empty", cfg.Repo)
	}
}

func TestLoadLocalConfigMalformedYaml(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("repo: [unclosed"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg := LoadLocalConfig(tmpDir)
	if cfg == nil || cfg.Repo != "" {
		t.Errorf("malformed yaml should yield empty config, got %+v", cfg)
	}
}

func TestLoadLocalConfigWithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	content := "repo: octo/widgets\nprefix: aw_\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("TETHER_REPO", "other/repo")
	t.Setenv("TETHER_PREFIX", "tmp_")

	cfg := LoadLocalConfigWithEnv(tmpDir)
	if cfg.Repo != "other/repo" {
		t.Errorf("Repo = %q, want env override", cfg.Repo)
	}
	if cfg.Prefix != "tmp_" {
		t.Errorf("Prefix = %q, want env override", cfg.Prefix)
	}
}
