// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/deckfs/internal/metrics"
)

// Terminate stops a process group in two phases.
// It sends SIGTERM, waits for done to close, and if the process has not
// exited within grace, sends SIGKILL and waits at most timeout more.
// done must be closed by whoever owns cmd.Wait().
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, done <-chan struct{}, grace, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		metrics.IncProcWait("already_exited")
		return nil
	default:
	}

	// 1. SIGTERM to the group
	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case <-done:
		metrics.IncProcWait("exited")
		return nil
	case <-time.After(grace):
	}

	// 2. Grace exceeded -> SIGKILL
	if err := Kill(cmd, syscall.SIGKILL); err == nil {
		metrics.IncProcTerminate("SIGKILL", "sent")
	} else {
		metrics.IncProcTerminate("SIGKILL", "error")
	}

	select {
	case <-done:
		metrics.IncProcWait("forced_exit")
		return nil
	case <-time.After(timeout):
		metrics.IncProcWait("stuck")
		return ErrKillFailed
	}
}
