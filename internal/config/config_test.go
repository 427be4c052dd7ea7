package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Addr)
	}
	if len(cfg.Calendars) == 0 {
		t.Error("expected default calendars to be non-empty")
	}
	if !strings.Contains(cfg.DatabasePath, ".node-drive") {
		t.Errorf("database path should contain .node-drive: %s", cfg.DatabasePath)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr, got %s", cfg.Addr)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
addr = ":9090"
root = "/srv/files"
database_path = "/custom/provenance.db"
calendars = ["https://calendar.example.com"]
server_private_key_hex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
allow_delete = true
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Addr)
	}
	if cfg.Root != "/srv/files" {
		t.Errorf("expected root /srv/files, got %s", cfg.Root)
	}
	if len(cfg.Calendars) != 1 || cfg.Calendars[0] != "https://calendar.example.com" {
		t.Errorf("unexpected calendars: %v", cfg.Calendars)
	}
	if !cfg.AllowDelete {
		t.Error("expected allow_delete to be true")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	if err := os.WriteFile(configPath, []byte("this is not valid toml {{{"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidateRequiresPrivateKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing server_private_key_hex")
	}

	cfg.ServerPrivateKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsShortKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerPrivateKeyHex = "abcd"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short private key")
	}
}

func TestValidateRejectsEmptyCalendars(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerPrivateKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	cfg.Calendars = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty calendars")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		DatabasePath: filepath.Join(tmpDir, "subdir1", "provenance.db"),
		Root:         filepath.Join(tmpDir, "subdir2"),
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "subdir1")); os.IsNotExist(err) {
		t.Error("subdir1 was not created")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "subdir2")); os.IsNotExist(err) {
		t.Error("subdir2 was not created")
	}
}
