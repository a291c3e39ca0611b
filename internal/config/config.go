// Package config provides TOML configuration file loading for the
// workbench CLI. The configuration file lives at
// ~/.workbench/config.toml by default, but can be overridden with the
// --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the workbench configuration file structure.
// Field names use Go camelCase internally but map to snake_case in
// TOML files via struct tags.
type Config struct {
	// ServerURL is the WebSocket endpoint of the agent backend.
	// Default: ws://127.0.0.1:8787/ws
	ServerURL string `toml:"server_url"`

	// APIURL is the base URL of the workspace management HTTP API.
	// Default: http://127.0.0.1:8787/api
	APIURL string `toml:"api_url"`

	// Token authenticates WebSocket and HTTP requests. Optional.
	Token string `toml:"token"`

	// Database is the path to the SQLite database for local state.
	// Default: ~/.workbench/workbench.db
	Database string `toml:"database"`

	// Workspace is the default workspace id to connect to when no
	// --workspace flag is given.
	Workspace string `toml:"workspace"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`
}

// DefaultConfigPath returns the default config file location:
// ~/.workbench/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".workbench", "config.toml"), nil
}

// DefaultDatabasePath returns the default local database location:
// ~/.workbench/workbench.db.
func DefaultDatabasePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".workbench", "workbench.db"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.workbench/config.toml). Returns an empty Config without
//     error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if
		// missing. The CLI works without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist. If the
		// user names a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
