// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/deckfs/internal/config"
	"gopkg.in/yaml.v3"
)

// effectiveConfig is what `deckfsd config` prints.
type effectiveConfig struct {
	ConfigDir        string  `yaml:"config_dir"`
	SettingsFile     string  `yaml:"settings_file"`
	Brightness       int     `yaml:"brightness"`
	DebounceInterval float64 `yaml:"debounce_interval"`
	EnvFile          string  `yaml:"env_file"`
	EnvVars          int     `yaml:"env_vars"`
	StatusFile       string  `yaml:"status_file"`
	MetricsAddr      string  `yaml:"metrics_addr,omitempty"`
}

func runConfigCLI(args []string) int {
	fs := flag.NewFlagSet("deckfsd config", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configDir := fs.String("config-dir", "", "configuration root")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := printConfig(os.Stdout, config.LoadDaemonConfig(*configDir)); err != nil {
		fmt.Fprintf(os.Stderr, "cannot print configuration: %v\n", err)
		return 1
	}
	return 0
}

func printConfig(w io.Writer, cfg config.DaemonConfig) error {
	s := config.LoadSettings(cfg.ConfigDir)
	envPath := config.EnvFilePath(cfg.ConfigDir)
	out := effectiveConfig{
		ConfigDir:        cfg.ConfigDir,
		SettingsFile:     config.SettingsPath(cfg.ConfigDir),
		Brightness:       s.Brightness,
		DebounceInterval: s.DebounceInterval.Seconds(),
		EnvFile:          envPath,
		EnvVars:          len(config.LoadEnvFile(envPath)),
		StatusFile:       cfg.StatusFile,
		MetricsAddr:      cfg.MetricsAddr,
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
