// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DaemonConfig holds process-level options; it never changes at runtime.
type DaemonConfig struct {
	ConfigDir       string
	LogLevel        string
	MetricsAddr     string // empty disables the metrics listener
	StatusFile      string
	StatusInterval  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfigDir is ~/.local/streamdeck.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "streamdeck")
	}
	return filepath.Join(home, ".local", "streamdeck")
}

// DefaultStatusFile prefers $XDG_RUNTIME_DIR/deckfs/status.json.
func DefaultStatusFile() string {
	if rt := os.Getenv("XDG_RUNTIME_DIR"); rt != "" {
		return filepath.Join(rt, "deckfs", "status.json")
	}
	return filepath.Join(os.TempDir(), "deckfs-status.json")
}

// LoadDaemonConfig resolves daemon options: flag value > ENV > default.
// An empty configDir flag means "not set".
func LoadDaemonConfig(configDir string) DaemonConfig {
	cfg := DaemonConfig{
		ConfigDir:       ParseString("DECKFS_CONFIG_DIR", DefaultConfigDir()),
		LogLevel:        ParseString("DECKFS_LOG_LEVEL", ""),
		MetricsAddr:     ParseString("DECKFS_METRICS_ADDR", ""),
		StatusFile:      ParseString("DECKFS_STATUS_FILE", DefaultStatusFile()),
		StatusInterval:  ParseDuration("DECKFS_STATUS_INTERVAL", 5*time.Second),
		ShutdownTimeout: ParseDuration("DECKFS_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if configDir != "" {
		cfg.ConfigDir = configDir
	}
	if abs, err := filepath.Abs(cfg.ConfigDir); err == nil {
		cfg.ConfigDir = abs
	}
	return cfg
}

// EnsureConfigRoot creates the config root if needed and verifies it is a directory.
func EnsureConfigRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRoot, err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRoot, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrConfigRoot, root)
	}
	if _, err := os.ReadDir(root); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRoot, err)
	}
	return nil
}
