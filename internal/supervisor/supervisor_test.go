// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/bash\n"+body+"\n"), 0o755))
}

type exitRecorder struct {
	mu    sync.Mutex
	exits []string
}

func (r *exitRecorder) record(role Role, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, fmt.Sprintf("%s:%d", role, code))
}

func (r *exitRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exits...)
}

func newTestSupervisor(t *testing.T, dir string, opts ...Option) *Supervisor {
	t.Helper()
	base := []Option{
		WithPollInterval(20 * time.Millisecond),
		WithStopGrace(time.Second),
		WithRestartBackoff(0),
	}
	s := New(dir, append(base, opts...)...)
	t.Cleanup(s.Cleanup)
	return s
}

// alive reports whether pid exists and is not a zombie.
func alive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	return len(fields) > 2 && fields[2] != "Z"
}

func TestResolvePriority(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, err := s.Resolve(Update)
	assert.ErrorIs(t, err, ErrScriptNotFound)

	writeScript(t, dir, "update.rb", "exit 0")
	_, err = s.Resolve(Update)
	assert.ErrorIs(t, err, ErrUnsupportedScript)

	writeScript(t, dir, "update.py", "")
	writeScript(t, dir, "update.sh", "exit 0")
	script, err := s.Resolve(Update)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "update.sh"), script.Path)
	assert.Equal(t, []string{"bash"}, script.Interpreter.Command)
}

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, ok := ParseRole(r.String())
		require.True(t, ok)
		assert.Equal(t, r, got)
	}
	_, ok := ParseRole("image")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Role(42).String())
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, dir)

	s.Stop(Background)
	assert.False(t, s.IsRunning(Background))

	writeScript(t, dir, "background.sh", "sleep 30")
	require.NoError(t, s.Start(Background))
	require.True(t, s.IsRunning(Background))

	s.Stop(Background)
	s.Stop(Background)
	assert.False(t, s.IsRunning(Background))
}

func TestStartMissingScript(t *testing.T) {
	s := newTestSupervisor(t, t.TempDir())
	assert.ErrorIs(t, s.Start(Background), ErrScriptNotFound)
	assert.ErrorIs(t, s.Start(Update), ErrRoleMode)
}

func TestStartBackgroundReplacesRunningInstance(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "background.sh", "sleep 30")
	s := newTestSupervisor(t, dir)

	require.NoError(t, s.Start(Background))
	first := s.PID(Background)
	require.NoError(t, s.Start(Background))
	second := s.PID(Background)

	assert.NotEqual(t, first, second)
	assert.Eventually(t, func() bool { return !alive(first) }, 3*time.Second, 20*time.Millisecond)
	assert.True(t, alive(second))
}

func TestStopKillsWholeProcessGroup(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "background.sh", "sleep 30 &\necho $! > child.pid\nwait")
	s := newTestSupervisor(t, dir)

	require.NoError(t, s.Start(Background))
	var child int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "child.pid"))
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			return false
		}
		child, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	s.Stop(Background)
	assert.Eventually(t, func() bool { return !alive(child) }, 3*time.Second, 20*time.Millisecond)
}

func TestMonitorReportsSelfExitOnly(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "action.sh", "exit 3")
	writeScript(t, dir, "background.sh", "sleep 30")
	rec := &exitRecorder{}
	s := newTestSupervisor(t, dir, WithOnExit(rec.record))
	s.StartMonitor()
	s.StartMonitor()

	require.NoError(t, s.Start(Action))
	require.NoError(t, s.Start(Background))
	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, 3*time.Second, 20*time.Millisecond)

	s.Stop(Background)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"action:3"}, rec.get())
}

func TestRunSync(t *testing.T) {
	dir := t.TempDir()
	s := newTestSupervisor(t, dir)

	assert.ErrorIs(t, s.RunSync(context.Background(), Update), ErrScriptNotFound)
	assert.ErrorIs(t, s.RunSync(context.Background(), Action), ErrRoleMode)

	writeScript(t, dir, "update.sh", "touch updated")
	require.NoError(t, s.RunSync(context.Background(), Update))
	assert.FileExists(t, filepath.Join(dir, "updated"))

	writeScript(t, dir, "update.sh", "echo 'bad input' >&2\nexit 2")
	err := s.RunSync(context.Background(), Update)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "bad input", exitErr.Stderr)
}

func TestRunSyncTimeoutKillsGroup(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "update.sh", "sleep 30 &\necho $! > child.pid\nwait")
	s := newTestSupervisor(t, dir, WithSyncTimeout(300*time.Millisecond))

	start := time.Now()
	err := s.RunSync(context.Background(), Update)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	data, readErr := os.ReadFile(filepath.Join(dir, "child.pid"))
	require.NoError(t, readErr)
	child, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, convErr)
	assert.Eventually(t, func() bool { return !alive(child) }, 3*time.Second, 20*time.Millisecond)
}

func TestEnvFileIsMergedOnEveryLaunch(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(t.TempDir(), "env.local")
	require.NoError(t, os.WriteFile(envFile, []byte("GREETING=\"hello there\"\n"), 0o600))
	writeScript(t, dir, "update.sh", "printf '%s' \"$GREETING\" > out")
	s := newTestSupervisor(t, dir, WithEnvFile(envFile))

	require.NoError(t, s.RunSync(context.Background(), Update))
	got, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(got))

	require.NoError(t, os.WriteFile(envFile, []byte("GREETING=changed\n"), 0o600))
	require.NoError(t, s.RunSync(context.Background(), Update))
	got, err = os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, "changed", string(got))
}

func TestRestartCrashWindow(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "background.sh", "sleep 30")
	clock := newFakeClock()
	s := newTestSupervisor(t, dir, WithClock(clock))

	for i := 1; i <= DefaultRestartLimit; i++ {
		require.NoError(t, s.Restart(Background), "restart %d", i)
		clock.Advance(time.Second)
	}
	assert.ErrorIs(t, s.Restart(Background), ErrCrashLoop)

	// Everything recorded so far falls out of the window.
	clock.Advance(DefaultRestartWindow)
	require.NoError(t, s.Restart(Background))
	assert.Equal(t, 1, s.CrashCount(Background))

	s.ResetCrashes(Background)
	assert.Equal(t, 0, s.CrashCount(Background))
}

func TestRestartInterruptedByCleanup(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "background.sh", "sleep 30")
	s := New(dir, WithRestartBackoff(10*time.Second))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Restart(Background) }()

	time.Sleep(50 * time.Millisecond)
	s.Cleanup()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(3 * time.Second):
		t.Fatal("restart did not observe cleanup")
	}
	assert.False(t, s.IsRunning(Background))
}

func TestRunDrawOneShot(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draw.sh", "printf 'plain-bytes'")
	s := newTestSupervisor(t, dir)

	res, err := s.RunDraw(nil)
	require.NoError(t, err)
	assert.False(t, res.Continuous)
	assert.Equal(t, []byte("plain-bytes"), res.Data)
	assert.False(t, s.IsRunning(Draw))

	writeScript(t, dir, "draw.sh", "printf 'x'\nexit 4")
	_, err = s.RunDraw(nil)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
}

func TestRunDrawContinuousAdoptsProcess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draw.sh", `i=0
while true; do
  i=$((i+1))
  payload="frame-$i"
  printf 'DECKFS_IMG_START\n%d\n%sDECKFS_IMG_END\n' "${#payload}" "$payload"
  sleep 0.05
done`)
	s := newTestSupervisor(t, dir)

	var mu sync.Mutex
	var frames []string
	res, err := s.RunDraw(func(f []byte) {
		mu.Lock()
		frames = append(frames, string(f))
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.True(t, res.Continuous)
	assert.True(t, s.IsRunning(Draw))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "frame-1", frames[0])
	mu.Unlock()

	s.Stop(Draw)
	assert.False(t, s.IsRunning(Draw))
}

func TestCleanupStopsEverything(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "background.sh", "sleep 30")
	writeScript(t, dir, "action.sh", "sleep 30")
	s := newTestSupervisor(t, dir)
	s.StartMonitor()

	require.NoError(t, s.Start(Background))
	require.NoError(t, s.Start(Action))
	firstAction := s.PID(Action)
	require.NoError(t, s.Start(Action))

	s.Cleanup()
	assert.False(t, s.IsRunning(Background))
	assert.False(t, s.IsRunning(Action))
	assert.Eventually(t, func() bool { return !alive(firstAction) }, 3*time.Second, 20*time.Millisecond)

	// Reusable after cleanup.
	s.StartMonitor()
	require.NoError(t, s.Start(Background))
	assert.True(t, s.IsRunning(Background))
}

func TestRunDrawOversizedOutputFailsFast(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draw.sh", "head -c 20000000 /dev/zero\nsleep 30")
	s := newTestSupervisor(t, dir, WithSyncTimeout(20*time.Second))

	start := time.Now()
	_, err := s.RunDraw(nil)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.IsRunning(Draw))
}
