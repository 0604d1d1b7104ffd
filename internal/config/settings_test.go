// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, root, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, SettingsFileName), []byte(body), 0o600))
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	got := LoadSettings(t.TempDir())
	assert.Equal(t, DefaultSettings(), got)
}

func TestLoadSettingsFromYAML(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "brightness: 80\ndebounce_interval: 0.25\nunknown: yes\n")

	got := LoadSettings(root)
	assert.Equal(t, 80, got.Brightness)
	assert.Equal(t, 250*time.Millisecond, got.DebounceInterval)
}

func TestLoadSettingsClampsValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Settings
	}{
		{"brightness above range", "brightness: 250\n", Settings{100, DefaultDebounceInterval}},
		{"brightness below range", "brightness: -5\n", Settings{0, DefaultDebounceInterval}},
		{"debounce below minimum", "debounce_interval: 0.001\n", Settings{DefaultBrightness, MinDebounceInterval}},
		{"debounce above maximum", "debounce_interval: 1e300\n", Settings{DefaultBrightness, MaxDebounceInterval}},
		{"debounce not a number", "debounce_interval: .nan\n", Settings{DefaultBrightness, DefaultDebounceInterval}},
		{"numeric strings", "brightness: \"30\"\ndebounce_interval: \"0.5\"\n", Settings{30, 500 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeSettings(t, root, tt.body)
			assert.Equal(t, tt.want, LoadSettings(root))
		})
	}
}

func TestLoadSettingsInvalidValueFallsBack(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "brightness: bright\ndebounce_interval: 0.2\n")

	got := LoadSettings(root)
	assert.Equal(t, DefaultBrightness, got.Brightness)
	assert.Equal(t, 200*time.Millisecond, got.DebounceInterval)
}

func TestLoadSettingsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "brightness: [unterminated\n")
	assert.Equal(t, DefaultSettings(), LoadSettings(root))
}

func TestLoadSettingsEnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "brightness: 80\n")
	t.Setenv("DECKFS_BRIGHTNESS", "20")
	t.Setenv("DECKFS_DEBOUNCE_INTERVAL", "0.05")

	got := LoadSettings(root)
	assert.Equal(t, 20, got.Brightness)
	assert.Equal(t, 50*time.Millisecond, got.DebounceInterval)
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "brightness: 10\n")
	h := NewHolder(root)
	require.Equal(t, 10, h.Get().Brightness)

	var seen []Settings
	h.OnReload(func(s Settings) { seen = append(seen, s) })

	writeSettings(t, root, "brightness: 90\n")
	got := h.Reload()

	assert.Equal(t, 90, got.Brightness)
	assert.Equal(t, 90, h.Get().Brightness)
	require.Len(t, seen, 1)
	assert.Equal(t, got, seen[0])
}

func TestStaticHolderReloadKeepsValues(t *testing.T) {
	s := Settings{Brightness: 33, DebounceInterval: time.Second}
	h := NewStaticHolder(s)
	assert.Equal(t, s, h.Reload())
}

func TestLoadSettingsEnvDebounceIsBounded(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DECKFS_DEBOUNCE_INTERVAL", "1e300")
	assert.Equal(t, MaxDebounceInterval, LoadSettings(root).DebounceInterval)

	t.Setenv("DECKFS_DEBOUNCE_INTERVAL", "NaN")
	assert.Equal(t, MinDebounceInterval, LoadSettings(root).DebounceInterval)
}
