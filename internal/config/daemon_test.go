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

func TestLoadDaemonConfigPrecedence(t *testing.T) {
	envDir := t.TempDir()
	flagDir := t.TempDir()
	t.Setenv("DECKFS_CONFIG_DIR", envDir)
	t.Setenv("DECKFS_SHUTDOWN_TIMEOUT", "3s")

	cfg := LoadDaemonConfig("")
	assert.Equal(t, envDir, cfg.ConfigDir)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)

	cfg = LoadDaemonConfig(flagDir)
	assert.Equal(t, flagDir, cfg.ConfigDir)
}

func TestEnsureConfigRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureConfigRoot(root))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.ErrorIs(t, EnsureConfigRoot(file), ErrConfigRoot)
}

func TestParseHelpersFallBack(t *testing.T) {
	t.Setenv("DECKFS_TEST_INT", "12")
	t.Setenv("DECKFS_TEST_BAD_INT", "twelve")
	t.Setenv("DECKFS_TEST_DUR", "250ms")
	t.Setenv("DECKFS_TEST_EMPTY", "")

	assert.Equal(t, 12, ParseInt("DECKFS_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("DECKFS_TEST_BAD_INT", 1))
	assert.Equal(t, 250*time.Millisecond, ParseDuration("DECKFS_TEST_DUR", time.Second))
	assert.Equal(t, "fallback", ParseString("DECKFS_TEST_EMPTY", "fallback"))
	assert.InDelta(t, 0.5, ParseFloat("DECKFS_TEST_UNSET_FLOAT", 0.5), 1e-9)
}
