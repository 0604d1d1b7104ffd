// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"time"

	"github.com/ManuGH/deckfs/internal/config"
)

const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultStopGrace      = 5 * time.Second
	DefaultSyncTimeout    = 30 * time.Second
	DefaultRestartBackoff = 2 * time.Second
	DefaultRestartWindow  = 300 * time.Second
	DefaultRestartLimit   = 5
)

// ExitFunc is called by the monitor when a tracked process exits on its own.
// It runs on the monitor goroutine and must not call Cleanup synchronously.
type ExitFunc func(role Role, exitCode int)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithButtonID tags logs with the owning button.
func WithButtonID(id int) Option {
	return func(s *Supervisor) { s.buttonID = id }
}

// WithOnExit sets the completion callback.
func WithOnExit(fn ExitFunc) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// WithEnvFile sets the env.local file merged into every launch.
func WithEnvFile(path string) Option {
	return func(s *Supervisor) { s.envFile = path }
}

// WithInterpreters replaces the extension resolution table.
func WithInterpreters(list []config.Interpreter) Option {
	return func(s *Supervisor) { s.interpreters = list }
}

// WithClock injects a clock for crash window accounting and backoff.
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithPollInterval sets how often the monitor checks for exited processes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStopGrace sets the SIGTERM grace period before SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithSyncTimeout sets the deadline of update runs and one-shot draws.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithRestartBackoff sets the delay before a restart relaunch; 0 disables it.
func WithRestartBackoff(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.restartBackoff = d
		}
	}
}

// WithCrashWindow sets the sliding restart window and the restarts allowed in it.
func WithCrashWindow(window time.Duration, limit int) Option {
	return func(s *Supervisor) {
		if window > 0 {
			s.restartWindow = window
		}
		if limit > 0 {
			s.restartLimit = limit
		}
	}
}
