// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/google/renameio/v2"
)

// ErrNoStatus means no daemon has written a status file yet.
var ErrNoStatus = errors.New("no status file")

// WriteStatus atomically replaces path with the JSON encoding of r.
func WriteStatus(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending status file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			log.L().Debug().Err(err).Msg("cleanup pending status file")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace status file: %w", err)
	}
	return nil
}

// ReadStatus loads a report written by WriteStatus.
func ReadStatus(path string) (Report, error) {
	var r Report
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if errors.Is(err, os.ErrNotExist) {
		return r, fmt.Errorf("%w: %s", ErrNoStatus, path)
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode status %s: %w", path, err)
	}
	return r, nil
}

// RunStatusWriter writes a report every interval until ctx is done, then
// writes a final one. The final report carries the shutdown status.
func RunStatusWriter(ctx context.Context, m *Manager, path string, interval time.Duration, pid int) error {
	logger := log.WithComponent("health").With().Str(log.FieldPath, path).Logger()
	write := func(ctx context.Context) {
		r := m.Report(ctx)
		r.PID = pid
		if err := WriteStatus(path, r); err != nil {
			logger.Warn().Err(err).Msg("failed to write status file")
		}
	}

	write(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			write(context.Background())
			return nil
		case <-ticker.C:
			write(ctx)
		}
	}
}
