// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package button holds the per-key state machine: which scripts run for a
// button directory and which image the key shows.
package button

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/bus"
	"github.com/ManuGH/deckfs/internal/imaging"
	"github.com/ManuGH/deckfs/internal/layout"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/ManuGH/deckfs/internal/supervisor"
	"github.com/rs/zerolog"
)

var (
	// ErrFailed means the key should show the error placeholder.
	ErrFailed = errors.New("button failed")
	// ErrNoImage means nothing is configured; the key is blanked.
	ErrNoImage = errors.New("no image configured")
	// ErrPending means a continuous draw stream has not produced a frame yet.
	ErrPending = errors.New("waiting for first frame")
)

// DefaultFlashDuration is how long a transient failure is shown.
const DefaultFlashDuration = 2 * time.Second

// Publisher is the part of the event bus a controller needs.
type Publisher interface {
	Publish(t bus.EventType, p bus.Payload) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSupervisorOptions are applied to every supervisor the controller creates.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(c *Controller) { c.supOpts = append(c.supOpts, opts...) }
}

// WithFlashDuration overrides the transient failure window.
func WithFlashDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.flashDuration = d
		}
	}
}

// Controller drives one button slot.
// mu is never held while scripts run or events are published.
type Controller struct {
	id            int
	dir           string
	events        Publisher
	supOpts       []supervisor.Option
	flashDuration time.Duration
	logger        zerolog.Logger

	// life is read-held by operations that launch scripts and write-held
	// by Stop, so nothing is launched on a button that is being stopped.
	life       sync.RWMutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu          sync.Mutex
	sup         *supervisor.Supervisor
	running     bool
	failed      bool // persistent until reload
	imageBroken bool // last image.* could not be decoded
	flashing    bool
	flashTimer  *time.Timer
	continuous  bool
	lastFrame   image.Image

	restarts sync.WaitGroup
}

// New creates a controller for button id backed by dir.
func New(id int, dir string, events Publisher, opts ...Option) *Controller {
	c := &Controller{
		id:            id,
		dir:           dir,
		events:        events,
		flashDuration: DefaultFlashDuration,
		logger: log.WithComponent("button").With().
			Int(log.FieldButtonID, id).
			Str(log.FieldDir, dir).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sup = c.newSupervisor()
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) newSupervisor() *supervisor.Supervisor {
	opts := append([]supervisor.Option{
		supervisor.WithButtonID(c.id),
		supervisor.WithOnExit(c.onScriptCompleted),
	}, c.supOpts...)
	return supervisor.New(c.dir, opts...)
}

// ID is the 1-based button id.
func (c *Controller) ID() int { return c.id }

// Dir is the button directory the scripts run in.
func (c *Controller) Dir() string { return c.dir }

// enter admits an operation on a started button. It fails while the button
// is stopped or being stopped. On success the caller must call c.life.RUnlock.
// The returned context is cancelled when Stop begins.
func (c *Controller) enter() (context.Context, bool) {
	if !c.life.TryRLock() {
		return nil, false
	}
	c.mu.Lock()
	running, ctx := c.running, c.lifeCtx
	c.mu.Unlock()
	if !running {
		c.life.RUnlock()
		return nil, false
	}
	return ctx, true
}

func (c *Controller) currentSup() *supervisor.Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sup
}

// Failed reports whether the key currently shows the error placeholder.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed || c.flashing || c.imageBroken
}

// Continuous reports whether the draw script is streaming frames.
func (c *Controller) Continuous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continuous
}

// Running reports whether Start was called without a following Stop.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) setFailed(v bool) {
	c.mu.Lock()
	c.failed = v
	c.mu.Unlock()
}

func (c *Controller) requestRefresh() {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(bus.ImageRefresh, bus.Payload{ButtonID: c.id}); err != nil {
		c.logger.Debug().Err(err).Msg("image refresh not delivered")
	}
}

// LoadConfig validates the directory and runs the update script.
// It returns false when the directory is gone.
func (c *Controller) LoadConfig(ctx context.Context) bool {
	if fi, err := os.Stat(c.dir); err != nil || !fi.IsDir() {
		c.logger.Error().Msg("button directory missing")
		c.setFailed(true)
		c.requestRefresh()
		return false
	}
	c.setFailed(false)
	c.runUpdate(ctx)
	return true
}

func (c *Controller) runUpdate(ctx context.Context) {
	err := c.currentSup().RunSync(ctx, supervisor.Update)
	if err != nil && !errors.Is(err, supervisor.ErrScriptNotFound) {
		c.logger.Warn().Err(err).Msg("update script failed")
	}
}

// Start launches the background script and the exit monitor. Idempotent.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	sup := c.sup
	resumeStream := c.continuous
	c.mu.Unlock()

	sup.StartMonitor()

	if !sup.IsRunning(supervisor.Background) {
		if err := sup.Start(supervisor.Background); err != nil && !errors.Is(err, supervisor.ErrScriptNotFound) {
			c.logger.Error().Err(err).Msg("failed to start background script")
			c.setFailed(true)
			c.requestRefresh()
		}
	}

	if resumeStream && !sup.IsRunning(supervisor.Draw) {
		if err := sup.StartDraw(c.onFrame); err != nil {
			c.logger.Warn().Err(err).Msg("failed to resume draw stream")
			c.mu.Lock()
			c.continuous = false
			c.lastFrame = nil
			c.mu.Unlock()
			c.requestRefresh()
		}
	}
}

// Stop terminates every script of the button. Idempotent.
// A synchronous update still running from a file change is killed.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.running = false
	cancel := c.lifeCancel
	if c.flashTimer != nil {
		c.flashTimer.Stop()
		c.flashTimer = nil
	}
	c.flashing = false
	c.mu.Unlock()

	cancel()
	c.life.Lock()
	defer c.life.Unlock()

	sup := c.currentSup()
	sup.Cleanup()
	c.restarts.Wait()
}

// Reload replaces the supervisor and starts over. Crash history and
// persistent failures are cleared.
func (c *Controller) Reload(ctx context.Context) {
	c.Stop()
	metrics.ButtonReloadsTotal.Inc()

	c.mu.Lock()
	c.sup = c.newSupervisor()
	c.failed = false
	c.imageBroken = false
	c.continuous = false
	c.lastFrame = nil
	c.mu.Unlock()

	c.logger.Info().Str(log.FieldEvent, "button.reload").Msg("reloading button")
	c.LoadConfig(ctx)
	c.Start()
}

// HandlePress launches the action script without waiting for it.
// Presses on a button that is not running are dropped.
func (c *Controller) HandlePress() {
	if _, ok := c.enter(); !ok {
		c.logger.Debug().Msg("press ignored, button not running")
		return
	}
	defer c.life.RUnlock()

	err := c.currentSup().Start(supervisor.Action)
	switch {
	case err == nil, errors.Is(err, supervisor.ErrScriptNotFound):
	default:
		c.logger.Error().Err(err).Msg("failed to run action")
		c.flash()
	}
}

// FileChanged reacts to a change of filename inside the button directory.
// It returns false for files without meaning. Script changes only take
// effect while the button is running; Start and Reload pick them up otherwise.
func (c *Controller) FileChanged(filename string) bool {
	role, ok := layout.RoleOf(filepath.Base(filename))
	if !ok {
		return false
	}
	switch role {
	case "image", "action":
		return true
	}

	logger := c.logger.With().Str(log.FieldRole, role).Str(log.FieldPath, filename).Logger()
	ctx, ok := c.enter()
	if !ok {
		logger.Debug().Msg("change ignored, button not running")
		return true
	}
	defer c.life.RUnlock()

	switch role {
	case "draw":
		c.mu.Lock()
		c.continuous = false
		c.lastFrame = nil
		sup := c.sup
		c.mu.Unlock()
		sup.Stop(supervisor.Draw)
		logger.Info().Msg("draw script changed")
		c.requestRefresh()
		return true

	case "background":
		sup := c.currentSup()
		sup.Stop(supervisor.Background)
		sup.ResetCrashes(supervisor.Background)
		err := sup.Start(supervisor.Background)
		failed := err != nil && !errors.Is(err, supervisor.ErrScriptNotFound)
		if failed {
			logger.Error().Err(err).Msg("failed to restart background script")
		} else {
			logger.Info().Msg("background script restarted")
		}
		c.setFailed(failed)
		c.requestRefresh()
		return true

	case "update":
		logger.Info().Msg("update script changed, running it")
		c.runUpdate(ctx)
		return true
	}
	return false
}

// Image decides what the key shows. Precedence: failure, draw script,
// image.* file. ErrFailed asks for the error placeholder, ErrNoImage and
// ErrPending for a blank key.
func (c *Controller) Image() (image.Image, error) {
	c.mu.Lock()
	if c.failed || c.flashing {
		c.mu.Unlock()
		return nil, ErrFailed
	}
	sup, continuous, frame := c.sup, c.continuous, c.lastFrame
	c.mu.Unlock()

	if sup.HasScript(supervisor.Draw) {
		if continuous {
			if frame == nil {
				return nil, ErrPending
			}
			return frame, nil
		}
		return c.drawOnce(sup)
	}

	path := layout.FindImage(c.dir)
	if path == "" {
		c.setImageBroken(false)
		return nil, ErrNoImage
	}
	img, err := imaging.DecodeFile(path)
	if err != nil {
		c.logger.Error().Err(err).Str(log.FieldPath, path).Msg("cannot load image")
		c.setImageBroken(true)
		return nil, ErrFailed
	}
	c.setImageBroken(false)
	return img, nil
}

func (c *Controller) setImageBroken(v bool) {
	c.mu.Lock()
	c.imageBroken = v
	c.mu.Unlock()
}

func (c *Controller) drawOnce(sup *supervisor.Supervisor) (image.Image, error) {
	res, err := sup.RunDraw(c.onFrame)
	if err != nil {
		c.logger.Error().Err(err).Msg("draw script failed")
		c.flash()
		return nil, ErrFailed
	}
	if res.Continuous {
		c.mu.Lock()
		c.continuous = true
		frame := c.lastFrame
		c.mu.Unlock()
		if frame != nil {
			return frame, nil
		}
		return nil, ErrPending
	}
	img, err := imaging.Decode(res.Data)
	if err != nil {
		c.logger.Error().Err(err).Int("bytes", len(res.Data)).Msg("draw output is not an image")
		c.flash()
		return nil, ErrFailed
	}
	return img, nil
}

// onFrame stores a streamed frame and asks for a repaint.
func (c *Controller) onFrame(frame []byte) {
	img, err := imaging.Decode(frame)
	if err != nil {
		c.logger.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable frame")
		return
	}
	c.mu.Lock()
	c.lastFrame = img
	c.mu.Unlock()
	c.requestRefresh()
}

// flash shows the error placeholder for the flash duration.
func (c *Controller) flash() {
	c.mu.Lock()
	c.flashing = true
	if c.flashTimer != nil {
		c.flashTimer.Stop()
	}
	c.flashTimer = time.AfterFunc(c.flashDuration, func() {
		c.mu.Lock()
		c.flashing = false
		c.flashTimer = nil
		c.mu.Unlock()
		c.requestRefresh()
	})
	c.mu.Unlock()
	c.requestRefresh()
}

// onScriptCompleted is the supervisor exit callback.
func (c *Controller) onScriptCompleted(role supervisor.Role, exitCode int) {
	logger := c.logger.With().Str(log.FieldRole, role.String()).Int(log.FieldExitCode, exitCode).Logger()

	switch role {
	case supervisor.Background:
		sup := c.currentSup()
		c.restarts.Add(1)
		go func() {
			defer c.restarts.Done()
			c.setFailed(false)
			err := sup.Restart(supervisor.Background)
			switch {
			case err == nil, errors.Is(err, supervisor.ErrScriptNotFound):
			case errors.Is(err, supervisor.ErrStopped):
				return
			case errors.Is(err, supervisor.ErrCrashLoop):
				logger.Error().Msg("background script disabled until reload")
				c.setFailed(true)
			default:
				logger.Error().Err(err).Msg("background relaunch failed")
				c.setFailed(true)
			}
			c.requestRefresh()
		}()

	case supervisor.Action:
		if exitCode != 0 {
			logger.Warn().Msg("action failed")
			c.flash()
		}

	case supervisor.Draw:
		c.mu.Lock()
		wasContinuous := c.continuous
		c.continuous = false
		c.lastFrame = nil
		c.mu.Unlock()
		if wasContinuous {
			logger.Info().Msg("draw stream ended, back to one-shot mode")
		}
		if exitCode != 0 {
			c.flash()
			return
		}
		c.requestRefresh()
	}
}

// Status is a snapshot for health reporting.
type Status struct {
	ID         int    `json:"id"`
	Dir        string `json:"dir"`
	Failed     bool   `json:"failed"`
	Continuous bool   `json:"continuous"`
	Background bool   `json:"background_running"`
}

// Status returns the current state of the button.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		ID:         c.id,
		Dir:        c.dir,
		Failed:     c.failed || c.flashing || c.imageBroken,
		Continuous: c.continuous,
	}
	sup := c.sup
	c.mu.Unlock()
	st.Background = sup.IsRunning(supervisor.Background)
	return st
}
