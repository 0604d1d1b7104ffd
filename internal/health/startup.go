// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/layout"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts.
// Only an unusable configuration root is fatal.
func PerformStartupChecks(root string, interpreters []config.Interpreter) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running startup checks")

	if err := config.EnsureConfigRoot(root); err != nil {
		return fmt.Errorf("configuration root check failed: %w", err)
	}
	logger.Info().Str(log.FieldPath, root).Msg("configuration root is usable")

	checkInterpreters(logger, interpreters)
	countButtonDirs(logger, root)
	return nil
}

func checkInterpreters(logger zerolog.Logger, interpreters []config.Interpreter) {
	for _, in := range interpreters {
		if len(in.Command) == 0 {
			continue
		}
		if _, err := exec.LookPath(in.Command[0]); err != nil {
			logger.Warn().
				Str("extension", in.Ext).
				Str("interpreter", in.Command[0]).
				Msg("interpreter not found, scripts with this extension will fail")
		}
	}
}

func countButtonDirs(logger zerolog.Logger, root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && layout.IsButtonDir(e.Name()) {
			n++
		}
	}
	if n == 0 {
		logger.Warn().Str(log.FieldPath, root).Msg("no button directories found (expected names like 01_name)")
		return
	}
	logger.Info().Int("button_dirs", n).Msg("button directories found")
}
