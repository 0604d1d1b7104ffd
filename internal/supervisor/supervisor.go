// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor runs the role scripts of one button directory.
//
// Each role has at most one live process. Tracked processes run in their own
// process group so a stop reaches every child they spawned. A monitor loop
// reports processes that exit on their own through the ExitFunc; deliberate
// stops are not reported. Restart applies a sliding crash window so a script
// that keeps dying is eventually given up on.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/ManuGH/deckfs/internal/procgroup"
	"github.com/rs/zerolog"
)

// process is a launched script. exitCode is valid once done is closed.
type process struct {
	role     Role
	cmd      *exec.Cmd
	pgid     int
	started  time.Time
	done     chan struct{}
	exitCode int
	stdout   *os.File // read end of the stdout pipe, stream mode only
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the processes of one button directory.
type Supervisor struct {
	dir          string
	buttonID     int
	envFile      string
	interpreters []config.Interpreter
	onExit       ExitFunc
	clock        Clock
	logger       zerolog.Logger

	pollInterval   time.Duration
	stopGrace      time.Duration
	syncTimeout    time.Duration
	restartBackoff time.Duration
	restartWindow  time.Duration
	restartLimit   int

	mu      sync.Mutex
	procs   [numRoles]*process
	retired []*process // superseded action runs, killed on Cleanup
	crashes [numRoles][]time.Time

	// gen increments on Cleanup; launches from an older generation are discarded.
	gen         uint64
	quit        chan struct{}
	monitorDone chan struct{}
}

// New creates a supervisor for dir. Nothing runs until Start or StartMonitor.
func New(dir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		dir:            dir,
		interpreters:   config.DefaultInterpreters,
		clock:          RealClock{},
		pollInterval:   DefaultPollInterval,
		stopGrace:      DefaultStopGrace,
		syncTimeout:    DefaultSyncTimeout,
		restartBackoff: DefaultRestartBackoff,
		restartWindow:  DefaultRestartWindow,
		restartLimit:   DefaultRestartLimit,
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "supervisor").
			Int(log.FieldButtonID, s.buttonID).
			Str(log.FieldDir, dir)
	})
	return s
}

// Dir returns the working directory.
func (s *Supervisor) Dir() string { return s.dir }

// Start launches a tracked role (action or background) asynchronously.
// Background replaces any running instance; a repeated action leaves the
// previous run alive until it exits or Cleanup kills it.
func (s *Supervisor) Start(role Role) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.start(role, gen)
}

func (s *Supervisor) start(role Role, gen uint64) error {
	if !role.Valid() || roleModes[role] != modeTracked {
		return fmt.Errorf("start %s: %w", role, ErrRoleMode)
	}
	script, err := s.Resolve(role)
	if err != nil {
		if !errors.Is(err, ErrScriptNotFound) {
			metrics.IncScriptStart(role.String(), "unsupported")
			s.logger.Error().Err(err).Str(log.FieldRole, role.String()).Msg("cannot start script")
		}
		return err
	}

	if role != Action {
		s.Stop(role)
	}

	p, err := s.launch(role, script, false)
	if err != nil {
		return err
	}
	if !s.register(p, gen) {
		s.terminate(p)
		return fmt.Errorf("start %s: %w", role, ErrStopped)
	}
	return nil
}

// register records p unless Cleanup ran since gen was read.
func (s *Supervisor) register(p *process, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	if prev := s.procs[p.role]; prev != nil {
		// Only actions overlap; anything else was stopped before launch.
		s.retired = append(s.retired, prev)
	}
	s.procs[p.role] = p
	return true
}

// Stop terminates the process tracked for role, if any. The record is
// removed first so the monitor does not report the exit. Idempotent.
func (s *Supervisor) Stop(role Role) {
	if !role.Valid() {
		return
	}
	s.mu.Lock()
	p := s.procs[role]
	s.procs[role] = nil
	s.mu.Unlock()

	if p != nil {
		s.terminate(p)
	}
}

func (s *Supervisor) terminate(p *process) {
	logger := s.logger.With().Str(log.FieldRole, p.role.String()).Int(log.FieldPID, p.cmd.Process.Pid).Logger()
	if err := procgroup.Terminate(p.cmd, p.done, s.stopGrace, s.stopGrace); err != nil {
		logger.Error().Err(err).Msg("process group did not exit after SIGKILL")
	} else {
		logger.Debug().Msg("process stopped")
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
}

// IsRunning reports whether a live process is tracked for role.
func (s *Supervisor) IsRunning(role Role) bool {
	if !role.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[role]
	return p != nil && !p.exited()
}

// PID returns the tracked pid for role, or 0.
func (s *Supervisor) PID(role Role) int {
	if !role.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[role]; p != nil && !p.exited() {
		return p.cmd.Process.Pid
	}
	return 0
}

// Restart records a crash for role and relaunches it after the backoff.
// It returns ErrCrashLoop when more than the allowed restarts happened in
// the window; the role then stays down until ResetCrashes.
func (s *Supervisor) Restart(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("restart %s: %w", role, ErrRoleMode)
	}

	s.mu.Lock()
	now := s.clock.Now()
	cutoff := now.Add(-s.restartWindow)
	kept := s.crashes[role][:0]
	for _, ts := range s.crashes[role] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.crashes[role] = kept
	count := len(kept)
	gen, quit := s.gen, s.quit
	s.mu.Unlock()

	logger := s.logger.With().Str(log.FieldRole, role.String()).Logger()
	if count > s.restartLimit {
		metrics.IncScriptRestart(role.String(), "crash_loop")
		logger.Error().
			Str(log.FieldEvent, "script.crash_loop").
			Int("restarts", count-1).
			Dur("window", s.restartWindow).
			Msg("script keeps crashing, giving up")
		return fmt.Errorf("restart %s: %w", role, ErrCrashLoop)
	}

	logger.Warn().
		Str(log.FieldEvent, "script.restart").
		Int("attempt", count).
		Int("limit", s.restartLimit).
		Dur("backoff", s.restartBackoff).
		Msg("restarting script")

	if s.restartBackoff > 0 {
		select {
		case <-s.clock.After(s.restartBackoff):
		case <-quit:
			return fmt.Errorf("restart %s: %w", role, ErrStopped)
		}
	}

	if err := s.start(role, gen); err != nil {
		metrics.IncScriptRestart(role.String(), "failed")
		return err
	}
	metrics.IncScriptRestart(role.String(), "ok")
	return nil
}

// ResetCrashes forgets the crash history of role.
func (s *Supervisor) ResetCrashes(role Role) {
	if !role.Valid() {
		return
	}
	s.mu.Lock()
	s.crashes[role] = nil
	s.mu.Unlock()
}

// CrashCount returns the restarts currently counted in the window for role.
func (s *Supervisor) CrashCount(role Role) int {
	if !role.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.crashes[role])
}

// StartMonitor begins polling tracked processes for exits. Idempotent.
func (s *Supervisor) StartMonitor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitorDone != nil {
		return
	}
	done := make(chan struct{})
	s.monitorDone = done
	go s.monitor(s.quit, done)
}

func (s *Supervisor) monitor(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

// reap removes exited processes and reports them outside the lock.
func (s *Supervisor) reap() {
	var exited []*process

	s.mu.Lock()
	for role, p := range s.procs {
		if p != nil && p.exited() {
			exited = append(exited, p)
			s.procs[role] = nil
		}
	}
	live := s.retired[:0]
	for _, p := range s.retired {
		if !p.exited() {
			live = append(live, p)
		}
	}
	s.retired = live
	s.mu.Unlock()

	for _, p := range exited {
		if p.stdout != nil {
			_ = p.stdout.Close()
		}
		metrics.IncScriptExit(p.role.String(), p.exitCode)
		s.logger.Info().
			Str(log.FieldEvent, "script.exited").
			Str(log.FieldRole, p.role.String()).
			Int(log.FieldPID, p.cmd.Process.Pid).
			Int(log.FieldExitCode, p.exitCode).
			Dur("runtime", time.Since(p.started)).
			Msg("script exited")
		if s.onExit != nil {
			s.onExit(p.role, p.exitCode)
		}
	}
}

// Cleanup stops the monitor and every tracked process, and interrupts
// pending restarts. The supervisor can be started again afterwards.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	close(s.quit)
	s.quit = make(chan struct{})
	s.gen++
	monitorDone := s.monitorDone
	s.monitorDone = nil

	var victims []*process
	for role, p := range s.procs {
		if p != nil {
			victims = append(victims, p)
			s.procs[role] = nil
		}
	}
	victims = append(victims, s.retired...)
	s.retired = nil
	s.mu.Unlock()

	if monitorDone != nil {
		<-monitorDone
	}

	var wg sync.WaitGroup
	for _, p := range victims {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			s.terminate(p)
		}(p)
	}
	wg.Wait()
	if len(victims) > 0 {
		s.logger.Debug().Int("stopped", len(victims)).Msg("supervisor cleaned up")
	}
}
