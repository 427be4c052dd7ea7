// Package config handles configuration loading and validation for node-drive.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/mister-teddy/node-drive/internal/ots"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `toml:"addr"`

	// Root is the directory served over HTTP/WebDAV.
	Root string `toml:"root"`

	// DatabasePath is the path to the provenance SQLite database.
	DatabasePath string `toml:"database_path"`

	// Calendars lists the OpenTimestamps calendar servers to submit to.
	Calendars []string `toml:"calendars"`

	// BlockExplorerURL is the esplora-compatible base URL used to
	// cross-check Bitcoin attestations during verification.
	BlockExplorerURL string `toml:"block_explorer_url"`

	// ThrottleWindowSeconds bounds how often an unconfirmed artifact is
	// re-checked against the calendars.
	ThrottleWindowSeconds int `toml:"throttle_window_seconds"`

	// ServerPrivateKeyHex is the server's secp256k1 signing key, 32 bytes
	// hex-encoded. Never logged.
	ServerPrivateKeyHex string `toml:"server_private_key_hex"`

	// MinResumableSize is the smallest upload, in bytes, eligible for
	// resumable PATCH semantics.
	MinResumableSize int64 `toml:"min_resumable_size"`

	AllowUpload  bool `toml:"allow_upload"`
	AllowDelete  bool `toml:"allow_delete"`
	AllowSearch  bool `toml:"allow_search"`
	AllowArchive bool `toml:"allow_archive"`
	ReadOnly     bool `toml:"read_only"`

	// Hidden lists glob patterns excluded from listings and search.
	Hidden []string `toml:"hidden"`

	// PathPrefix is stripped from incoming request paths before they are
	// resolved against Root, e.g. "/files".
	PathPrefix string `toml:"path_prefix"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:                  ":8080",
		Root:                  ".",
		DatabasePath:          filepath.Join(DataDir(), "provenance.db"),
		Calendars:             ots.DefaultCalendars,
		BlockExplorerURL:      ots.DefaultBlockExplorerURL,
		ThrottleWindowSeconds: 300,
		MinResumableSize:      10 * 1024 * 1024,
		AllowUpload:           true,
		AllowDelete:           false,
		AllowSearch:           true,
		AllowArchive:          true,
		ReadOnly:              false,
		Hidden:                []string{".git", ".node-drive"},
		PathPrefix:            "",
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr is required")
	}
	if c.Root == "" {
		return errors.New("config: root is required")
	}
	if c.DatabasePath == "" {
		return errors.New("config: database_path is required")
	}
	if len(c.Calendars) == 0 {
		return errors.New("config: at least one calendar server is required")
	}
	if c.ServerPrivateKeyHex == "" {
		return errors.New("config: server_private_key_hex is required")
	}
	if len(c.ServerPrivateKeyHex) != 64 {
		return errors.New("config: server_private_key_hex must be 32 bytes hex-encoded")
	}
	if c.ThrottleWindowSeconds < 1 {
		return errors.New("config: throttle_window_seconds must be at least 1")
	}
	if c.MinResumableSize < 0 {
		return errors.New("config: min_resumable_size must not be negative")
	}
	return nil
}

// EnsureDirectories creates all necessary directories for the server.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.DatabasePath),
		c.Root,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}

// DataDir returns the base node-drive data directory.
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".node-drive")
}
