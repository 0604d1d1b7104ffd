// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
	"gopkg.in/yaml.v3"
)

const (
	// SettingsFileName is the single recognised settings file inside the config root.
	SettingsFileName = "config.yaml"

	DefaultBrightness       = 50
	DefaultDebounceInterval = 100 * time.Millisecond
	MinDebounceInterval     = 10 * time.Millisecond
	MaxDebounceInterval     = time.Minute
)

// Settings are the runtime-tunable values read from config.yaml.
type Settings struct {
	Brightness       int           // 0-100
	DebounceInterval time.Duration // >= MinDebounceInterval
}

// DefaultSettings returns the values used when config.yaml is absent.
func DefaultSettings() Settings {
	return Settings{
		Brightness:       DefaultBrightness,
		DebounceInterval: DefaultDebounceInterval,
	}
}

// fileSettings keeps raw YAML values so one malformed key does not discard the other.
type fileSettings struct {
	Brightness       any `yaml:"brightness"`
	DebounceInterval any `yaml:"debounce_interval"`
}

// SettingsPath returns the settings file location for a config root.
func SettingsPath(root string) string {
	return filepath.Join(root, SettingsFileName)
}

// LoadSettings loads settings with precedence: ENV > config.yaml > defaults.
// A missing or unreadable file is not an error; the daemon keeps running on defaults.
func LoadSettings(root string) Settings {
	logger := log.WithComponent("config")
	s := DefaultSettings()
	path := SettingsPath(root)

	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the user's config root
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str(log.FieldPath, path).Msg("no config.yaml found, using default configuration")
	case err != nil:
		logger.Error().Err(err).Str(log.FieldPath, path).Msg("error reading config file, using default configuration")
	default:
		if fileErr := s.mergeFile(data); fileErr != nil {
			logger.Error().Err(fileErr).Str(log.FieldPath, path).Msg("config file partially applied")
		} else {
			logger.Info().Str(log.FieldPath, path).Msg("configuration loaded")
		}
	}

	s.mergeEnv()
	return s
}

func (s *Settings) mergeFile(data []byte) error {
	var raw fileSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", SettingsFileName, err)
	}

	var errs []error
	if raw.Brightness != nil {
		v, err := toFloat(raw.Brightness)
		if err != nil {
			errs = append(errs, fmt.Errorf("brightness: %w", err))
		} else {
			s.Brightness = clampBrightness(v)
		}
	}
	if raw.DebounceInterval != nil {
		v, err := toFloat(raw.DebounceInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("debounce_interval: %w", err))
		} else {
			s.DebounceInterval = secondsToInterval(v)
		}
	}
	return errors.Join(errs...)
}

func (s *Settings) mergeEnv() {
	if _, ok := os.LookupEnv("DECKFS_BRIGHTNESS"); ok {
		s.Brightness = clampBrightness(float64(ParseInt("DECKFS_BRIGHTNESS", s.Brightness)))
	}
	if _, ok := os.LookupEnv("DECKFS_DEBOUNCE_INTERVAL"); ok {
		s.DebounceInterval = secondsToInterval(ParseFloat("DECKFS_DEBOUNCE_INTERVAL", s.DebounceInterval.Seconds()))
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidSetting, t)
		}
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSetting, t)
		}
		return toFloat(f)
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidSetting, v)
	}
}

func clampBrightness(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, v)))
}

// secondsToInterval clamps before converting; out-of-range floats have no
// defined time.Duration value.
func secondsToInterval(sec float64) time.Duration {
	switch {
	case math.IsNaN(sec), sec < MinDebounceInterval.Seconds():
		return MinDebounceInterval
	case sec > MaxDebounceInterval.Seconds():
		return MaxDebounceInterval
	}
	return time.Duration(math.Round(sec * float64(time.Second)))
}
