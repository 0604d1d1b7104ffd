// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package daemon

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/device"
	"github.com/ManuGH/deckfs/internal/health"
	"github.com/ManuGH/deckfs/internal/imaging"
	"github.com/ManuGH/deckfs/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("os/signal.loop"))
}

type fakeDeck struct {
	mu         sync.Mutex
	open       bool
	brightness int
	images     map[int][]byte
	cb         device.KeyCallback
}

func (d *fakeDeck) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.images = map[int][]byte{}
	return nil
}

func (d *fakeDeck) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

func (d *fakeDeck) Reset() error    { return nil }
func (d *fakeDeck) Connected() bool { return true }

func (d *fakeDeck) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDeck) KeyCount() int { return 6 }

func (d *fakeDeck) ImageFormat() imaging.Format {
	return imaging.Format{Width: 8, Height: 8, Encoding: imaging.JPEG}
}

func (d *fakeDeck) SetKeyImage(key int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images[key] = data
	return nil
}

func (d *fakeDeck) SetBrightness(p int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brightness = p
	return nil
}

func (d *fakeDeck) SetKeyCallback(fn device.KeyCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = fn
}

func (d *fakeDeck) DeckType() string        { return "Fake Deck" }
func (d *fakeDeck) Serial() (string, error) { return "FAKE1", nil }

func (d *fakeDeck) press(key int) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(key, true)
	}
}

func (d *fakeDeck) get(fn func(d *fakeDeck)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func pngFile(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func testDeps(d device.Deck) Deps {
	return Deps{
		Enumerator: device.EnumeratorFunc(func() ([]device.Deck, error) {
			return []device.Deck{d}, nil
		}),
		DisableHotplug: true,
		HealthInterval: time.Hour,
		ButtonOptions: []button.Option{
			button.WithSupervisorOptions(
				supervisor.WithPollInterval(20*time.Millisecond),
				supervisor.WithStopGrace(time.Second),
			),
		},
	}
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(config.DaemonConfig{ConfigDir: t.TempDir()}, Deps{})
	assert.ErrorIs(t, err, ErrMissingEnumerator)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(config.DaemonConfig{ConfigDir: file}, testDeps(&fakeDeck{}))
	assert.ErrorIs(t, err, config.ErrConfigRoot)
}

func TestAppLifecycle(t *testing.T) {
	t.Setenv("DECKFS_BRIGHTNESS", "")
	root := t.TempDir()
	dir := filepath.Join(root, "01_lamp")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	pngFile(t, filepath.Join(dir, "image.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "action.sh"), []byte("#!/bin/bash\ntouch \"$MARKER\"\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "env.local"), []byte("MARKER=pressed\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte("brightness: 30\n"), 0o600))

	statusFile := filepath.Join(t.TempDir(), "status.json")
	deck := &fakeDeck{}
	app, err := New(config.DaemonConfig{
		ConfigDir:       root,
		StatusFile:      statusFile,
		StatusInterval:  20 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}, testDeps(deck))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.Session().Connected, 5*time.Second, 10*time.Millisecond)
	deck.get(func(d *fakeDeck) { assert.Equal(t, 30, d.brightness) })
	require.Eventually(t, func() bool {
		var n int
		deck.get(func(d *fakeDeck) { n = len(d.images[0]) })
		return n > 0
	}, 5*time.Second, 10*time.Millisecond)

	// Key index 0 is button 1; the action sees env.local.
	deck.press(0)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "pressed"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		r, err := health.ReadStatus(statusFile)
		return err == nil && r.Checks["device"].Status == health.StatusHealthy
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte("brightness: 70\n"), 0o600))
	app.Reload()
	deck.get(func(d *fakeDeck) { assert.Equal(t, 70, d.brightness) })
	assert.Len(t, app.Coordinator().Statuses(), 1)

	assert.ErrorIs(t, app.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
	deck.get(func(d *fakeDeck) { assert.False(t, d.open) })
	assert.Empty(t, app.Coordinator().Statuses())
	require.NoError(t, app.Shutdown())

	r, err := health.ReadStatus(statusFile)
	require.NoError(t, err)
	assert.NotZero(t, r.PID)
}

func TestRunStepRecoversPanics(t *testing.T) {
	err := runStep(shutdownStep{name: "boom", fn: func() error { panic("boom") }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("step failed")
	assert.ErrorIs(t, runStep(shutdownStep{fn: func() error { return sentinel }}), sentinel)
}
