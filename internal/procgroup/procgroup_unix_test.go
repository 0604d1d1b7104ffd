// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminateGracefulExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 10 & sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())
	pgid := Pgid(cmd)
	require.Equal(t, cmd.Process.Pid, pgid)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	require.NoError(t, Terminate(cmd, done, 2*time.Second, time.Second))

	time.Sleep(50 * time.Millisecond)
	err := syscall.Kill(-pgid, syscall.Signal(0))
	assert.ErrorIs(t, err, syscall.ESRCH, "Process group should not exist")
}

func TestTerminateEscalatesToSIGKILL(t *testing.T) {
	// The script ignores SIGTERM; only SIGKILL can stop it.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())

	var waitErr error
	done := make(chan struct{})
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, Terminate(cmd, done, 200*time.Millisecond, 2*time.Second))
	require.Less(t, time.Since(start), 2*time.Second)
	require.Error(t, waitErr)
}

func TestTerminateNilCommand(t *testing.T) {
	require.NoError(t, Terminate(nil, nil, time.Millisecond, time.Millisecond))
	require.NoError(t, Kill(nil, syscall.SIGTERM))
	require.Zero(t, Pgid(nil))
}
