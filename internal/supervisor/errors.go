// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrScriptNotFound means no <role>.* file exists. Every role is optional,
	// so callers usually treat this as "nothing to do".
	ErrScriptNotFound = errors.New("script not found")
	// ErrUnsupportedScript means a <role>.* file exists but no interpreter handles its extension.
	ErrUnsupportedScript = errors.New("unsupported script type")
	// ErrCrashLoop is returned by Restart once the restart budget for the window is spent.
	ErrCrashLoop = errors.New("restart limit exceeded")
	// ErrTimeout is returned when a synchronous run exceeds its deadline.
	ErrTimeout = errors.New("script timed out")
	// ErrStopped is returned when Cleanup interrupts a pending operation.
	ErrStopped = errors.New("supervisor stopped")
	// ErrRoleMode is returned when a role is started through the wrong execution mode.
	ErrRoleMode = errors.New("role does not support this execution mode")
)

// ExitError reports a script that ran but exited non-zero.
type ExitError struct {
	Role   Role
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s script exited with code %d", e.Role, e.Code)
}
