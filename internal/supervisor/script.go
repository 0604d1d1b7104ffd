// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/ManuGH/deckfs/internal/procgroup"
)

// maxStderr bounds the stderr kept from a synchronous run for logging.
const maxStderr = 4 << 10

// Script is a resolved role file and the interpreter that runs it.
type Script struct {
	Role        Role
	Path        string
	Interpreter config.Interpreter
}

// Resolve finds the script for role. The first interpreter extension present
// in the directory wins.
func (s *Supervisor) Resolve(role Role) (Script, error) {
	name := role.String()
	for _, in := range s.interpreters {
		path := filepath.Join(s.dir, name+"."+in.Ext)
		fi, err := os.Stat(path)
		if err == nil && fi.Mode().IsRegular() {
			return Script{Role: role, Path: path, Interpreter: in}, nil
		}
	}

	matches, _ := filepath.Glob(filepath.Join(s.dir, name+".*"))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			return Script{}, fmt.Errorf("%w: %s", ErrUnsupportedScript, filepath.Base(m))
		}
	}
	return Script{}, fmt.Errorf("%s: %w", name, ErrScriptNotFound)
}

// HasScript reports whether a runnable script exists for role.
func (s *Supervisor) HasScript(role Role) bool {
	_, err := s.Resolve(role)
	return err == nil
}

// environ merges the daemon environment with env.local, reread on every launch.
func (s *Supervisor) environ() []string {
	if s.envFile == "" {
		return os.Environ()
	}
	return config.MergeEnv(os.Environ(), config.LoadEnvFile(s.envFile))
}

func (s *Supervisor) command(ctx context.Context, script Script) *exec.Cmd {
	argv := append(append([]string{}, script.Interpreter.Command[1:]...), script.Path)
	cmd := exec.CommandContext(ctx, script.Interpreter.Command[0], argv...) // #nosec G204 -- user-owned scripts
	cmd.Dir = s.dir
	cmd.Env = s.environ()
	procgroup.Set(cmd)
	return cmd
}

// launch starts script in its own process group. With stream set, stdout is
// connected to a pipe whose read end is kept on the process.
func (s *Supervisor) launch(role Role, script Script, stream bool) (*process, error) {
	cmd := s.command(context.Background(), script)

	var pr, pw *os.File
	if stream {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			metrics.IncScriptStart(role.String(), "error")
			return nil, fmt.Errorf("stdout pipe for %s: %w", role, err)
		}
		cmd.Stdout = pw
	}

	if err := cmd.Start(); err != nil {
		if pr != nil {
			_ = pr.Close()
			_ = pw.Close()
		}
		metrics.IncScriptStart(role.String(), "error")
		s.logger.Error().Err(err).Str(log.FieldRole, role.String()).Str(log.FieldScript, script.Path).Msg("failed to start script")
		return nil, fmt.Errorf("start %s: %w", role, err)
	}
	if pw != nil {
		// The child holds its own copy; ours must go so EOF arrives when it exits.
		_ = pw.Close()
	}

	p := &process{
		role:    role,
		cmd:     cmd,
		pgid:    procgroup.Pgid(cmd),
		started: s.clock.Now(),
		done:    make(chan struct{}),
		stdout:  pr,
	}
	go func() {
		p.exitCode = exitCode(cmd.Wait())
		close(p.done)
	}()

	metrics.IncScriptStart(role.String(), "ok")
	s.logger.Info().
		Str(log.FieldEvent, "script.started").
		Str(log.FieldRole, role.String()).
		Str(log.FieldScript, filepath.Base(script.Path)).
		Int(log.FieldPID, cmd.Process.Pid).
		Int("pgid", p.pgid).
		Msg("script started")
	return p, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// RunSync runs the update script to completion. It returns nil on exit code
// 0, ErrScriptNotFound when there is no script, ErrTimeout when the deadline
// passed (the whole process group is killed) and *ExitError otherwise.
func (s *Supervisor) RunSync(ctx context.Context, role Role) error {
	if !role.Valid() || roleModes[role] != modeSync {
		return fmt.Errorf("run %s: %w", role, ErrRoleMode)
	}
	script, err := s.Resolve(role)
	if err != nil {
		if !errors.Is(err, ErrScriptNotFound) {
			metrics.IncScriptStart(role.String(), "unsupported")
			s.logger.Error().Err(err).Str(log.FieldRole, role.String()).Msg("cannot run script")
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := s.command(ctx, script)
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxStderr}
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }
	cmd.WaitDelay = s.stopGrace

	logger := s.logger.With().Str(log.FieldRole, role.String()).Str(log.FieldScript, filepath.Base(script.Path)).Logger()
	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.IncScriptStart(role.String(), "error")
		logger.Error().Err(err).Msg("failed to start script")
		return fmt.Errorf("start %s: %w", role, err)
	}
	metrics.IncScriptStart(role.String(), "ok")
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		metrics.IncScriptExit(role.String(), -1)
		logger.Error().Dur("timeout", s.syncTimeout).Msg("script timed out, process group killed")
		return fmt.Errorf("run %s: %w", role, ErrTimeout)
	}
	code := exitCode(waitErr)
	metrics.IncScriptExit(role.String(), code)
	if code != 0 {
		msg := strings.TrimSpace(stderr.String())
		logger.Error().Int(log.FieldExitCode, code).Str("stderr", msg).Msg("script failed")
		return &ExitError{Role: role, Code: code, Stderr: msg}
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("script completed")
	return nil
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
