// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/joho/godotenv"
)

// EnvFileName is the user environment file in the config root.
const EnvFileName = "env.local"

// EnvFilePath returns the env.local location for a config root.
func EnvFilePath(root string) string {
	return filepath.Join(root, EnvFileName)
}

// LoadEnvFile reads KEY=VALUE pairs from path.
// Lines are parsed one at a time so a malformed line is skipped (with a
// debug diagnostic) instead of discarding the whole file. Later keys win.
// A missing file yields an empty map.
func LoadEnvFile(path string) map[string]string {
	f, err := os.Open(path) // #nosec G304 -- user config root
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger := log.WithComponent("config")
			logger.Error().Err(err).Str(log.FieldPath, path).Msg("error reading env file")
		}
		return map[string]string{}
	}
	defer func() { _ = f.Close() }()
	return ParseEnv(f, path)
}

// ParseEnv parses env.local content; name is used in diagnostics only.
func ParseEnv(r io.Reader, name string) map[string]string {
	logger := log.WithComponent("config")
	vars := map[string]string{}

	sc := bufio.NewScanner(r)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "=") {
			logger.Debug().Str(log.FieldPath, name).Int("line", lineNum).Msg("invalid line in env file")
			continue
		}
		parsed, err := godotenv.Unmarshal(line)
		if err != nil {
			logger.Debug().Err(err).Str(log.FieldPath, name).Int("line", lineNum).Msg("invalid line in env file")
			continue
		}
		for k, v := range parsed {
			if strings.TrimSpace(k) == "" {
				logger.Debug().Str(log.FieldPath, name).Int("line", lineNum).Msg("invalid line in env file")
				continue
			}
			vars[k] = v
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error().Err(err).Str(log.FieldPath, name).Msg("error reading env file")
	}
	return vars
}

// MergeEnv overlays extra on top of base (KEY=VALUE slice as in os.Environ).
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
