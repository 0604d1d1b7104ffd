// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts script processes in their own process group and
// tears the whole group down with a two-phase SIGTERM/SIGKILL sequence.
package procgroup

import "errors"

// ErrKillFailed is returned when a process group outlives SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")
