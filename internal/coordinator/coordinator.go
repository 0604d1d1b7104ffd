// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package coordinator owns the button slots. It creates them when a deck
// connects, routes bus events and key presses to them, and pushes their
// images to the device.
package coordinator

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/bus"
	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/device"
	"github.com/ManuGH/deckfs/internal/layout"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/rs/zerolog"
)

// Display is the device surface the coordinator writes to.
type Display interface {
	SetBrightness(percent int) error
	SetButtonImage(buttonID int, img image.Image) error
	SetButtonBlank(buttonID int) error
	SetButtonError(buttonID int) error
	BlankAll()
}

// EventBus is the part of the bus the coordinator uses.
type EventBus interface {
	Subscribe(t bus.EventType, fn bus.Handler) uint64
	Unsubscribe(t bus.EventType, id uint64)
	Publish(t bus.EventType, p bus.Payload) error
	SetInterval(d time.Duration)
}

// Pauser silences the file watcher while slots are rebuilt.
type Pauser interface {
	Pause()
	Resume()
}

// Config wires a Coordinator.
type Config struct {
	Root          string
	Bus           EventBus
	Settings      *config.Holder
	Watcher       Pauser // optional
	ButtonOptions []button.Option
}

// Coordinator implements device.Listener.
//
// opMu serializes slot lifecycle operations (connect, disconnect, reloads).
// Presses and file events take only mu to find their slot, so one button's
// scripts never delay another; the controller itself turns work away once
// it is being stopped. mu is also the only lock on the image refresh path,
// which may be entered from a supervisor monitor while opMu is held by a
// Stop waiting on that monitor.
type Coordinator struct {
	cfg    Config
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex

	mu         sync.Mutex
	display    Display
	buttons    map[int]*button.Controller
	keyCount   int
	refreshing map[int]bool
	dirty      map[int]bool
	subs       map[bus.EventType]uint64

	refreshWG sync.WaitGroup
}

var _ device.Listener = (*Coordinator)(nil)

// New creates a coordinator. Call SetDisplay and Start before the device
// session runs.
func New(cfg Config) *Coordinator {
	if cfg.Settings == nil {
		cfg.Settings = config.NewStaticHolder(config.DefaultSettings())
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:        cfg,
		logger:     log.WithComponent("coordinator"),
		ctx:        ctx,
		cancel:     cancel,
		buttons:    make(map[int]*button.Controller),
		refreshing: make(map[int]bool),
		dirty:      make(map[int]bool),
		subs:       make(map[bus.EventType]uint64),
	}
	cfg.Settings.OnReload(c.applySettings)
	return c
}

// SetDisplay attaches the device surface.
func (c *Coordinator) SetDisplay(d Display) {
	c.mu.Lock()
	c.display = d
	c.mu.Unlock()
}

func (c *Coordinator) currentDisplay() Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Start subscribes to the bus.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return
	}
	c.subs[bus.FileChanged] = c.cfg.Bus.Subscribe(bus.FileChanged, c.onFileChanged)
	c.subs[bus.ButtonDirectoriesChanged] = c.cfg.Bus.Subscribe(bus.ButtonDirectoriesChanged, c.onDirectoriesChanged)
	c.subs[bus.ConfigChanged] = c.cfg.Bus.Subscribe(bus.ConfigChanged, c.onConfigChanged)
	c.subs[bus.ImageRefresh] = c.cfg.Bus.Subscribe(bus.ImageRefresh, c.onImageRefresh)
}

// Shutdown unsubscribes and stops every slot. The display is left alone;
// the device session blanks it on disconnect.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for t, id := range c.subs {
		c.cfg.Bus.Unsubscribe(t, id)
		delete(c.subs, t)
	}
	c.mu.Unlock()

	c.cancel()
	c.opMu.Lock()
	stale := c.takeButtons()
	c.opMu.Unlock()
	stopAll(stale)
	c.refreshWG.Wait()
}

// KeyCount returns the key count of the current device, or 0.
func (c *Coordinator) KeyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyCount
}

// Statuses returns a snapshot of all slots ordered by id.
func (c *Coordinator) Statuses() []button.Status {
	c.mu.Lock()
	ctrls := make([]*button.Controller, 0, len(c.buttons))
	for _, b := range c.buttons {
		ctrls = append(ctrls, b)
	}
	c.mu.Unlock()

	out := make([]button.Status, 0, len(ctrls))
	for _, b := range ctrls {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) button(id int) *button.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buttons[id]
}

// takeButtons empties the slot table and returns what was in it.
func (c *Coordinator) takeButtons() []*button.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*button.Controller, 0, len(c.buttons))
	for id, b := range c.buttons {
		out = append(out, b)
		delete(c.buttons, id)
	}
	metrics.ButtonsActive.Set(0)
	return out
}

func (c *Coordinator) setButton(id int, b *button.Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b == nil {
		delete(c.buttons, id)
	} else {
		c.buttons[id] = b
	}
	metrics.ButtonsActive.Set(float64(len(c.buttons)))
}

func stopAll(ctrls []*button.Controller) {
	var wg sync.WaitGroup
	for _, b := range ctrls {
		wg.Add(1)
		go func(b *button.Controller) {
			defer wg.Done()
			b.Stop()
		}(b)
	}
	wg.Wait()
}

func (c *Coordinator) newButton(id int, dir string) *button.Controller {
	return button.New(id, dir, c.cfg.Bus, c.cfg.ButtonOptions...)
}

// OnConnect builds one slot per key that has a directory.
func (c *Coordinator) OnConnect(keyCount int) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if stale := c.takeButtons(); len(stale) > 0 {
		c.logger.Warn().Int("stale", len(stale)).Msg("device reconnected with slots still present, stopping them")
		stopAll(stale)
	}

	settings := c.cfg.Settings.Get()
	c.cfg.Bus.SetInterval(settings.DebounceInterval)

	c.mu.Lock()
	c.keyCount = keyCount
	c.mu.Unlock()

	var created []*button.Controller
	for id := 1; id <= keyCount; id++ {
		dir, ok := layout.ResolveDir(c.cfg.Root, id)
		if !ok {
			c.blank(id)
			continue
		}
		b := c.newButton(id, dir)
		c.setButton(id, b)
		created = append(created, b)
	}

	for _, b := range created {
		b.LoadConfig(c.ctx)
		c.push(b)
	}
	for _, b := range created {
		b.Start()
	}

	c.logger.Info().
		Str(log.FieldEvent, "coordinator.slots_ready").
		Int(log.FieldKeyCount, keyCount).
		Int("configured", len(created)).
		Msg("button slots created")
}

// OnDisconnect blanks the keys while the handle is still open, then stops
// every slot.
func (c *Coordinator) OnDisconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if d := c.currentDisplay(); d != nil {
		d.BlankAll()
	}
	stale := c.takeButtons()
	c.mu.Lock()
	c.keyCount = 0
	c.mu.Unlock()
	stopAll(stale)

	c.logger.Info().
		Str(log.FieldEvent, "coordinator.slots_released").
		Int("stopped", len(stale)).
		Msg("button slots stopped")
}

// OnKeyPress forwards a press to its slot. It runs on the device reader
// and never waits for another slot's work.
func (c *Coordinator) OnKeyPress(buttonID int) {
	if b := c.button(buttonID); b != nil {
		b.HandlePress()
	}
}

// ReloadAll reloads every slot in place, used on SIGHUP.
func (c *Coordinator) ReloadAll() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	keyCount := c.keyCount
	c.mu.Unlock()
	for id := 1; id <= keyCount; id++ {
		c.reconcile(id)
	}
}

// inRange checks id against the current key count.
func (c *Coordinator) inRange(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id >= 1 && id <= c.keyCount
}

func (c *Coordinator) onFileChanged(ev bus.Event) {
	path := ev.Payload.Path
	id, ok := layout.ButtonIDForPath(c.cfg.Root, path)
	if !ok || !c.inRange(id) {
		return
	}

	// Slot table lock only: a slow update in one button must not hold up
	// the others. The controller refuses work once it is being stopped.
	b := c.button(id)
	if b == nil || !within(b.Dir(), path) {
		// No slot, or a second directory with the same id that is not in use.
		return
	}
	if !b.FileChanged(path) {
		return
	}
	if role, _ := layout.RoleOf(filepath.Base(path)); role == "image" {
		c.requestRefresh(id)
	}
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// onDirectoriesChanged reacts to a create, delete or move of button
// directories. Only the ids named by the event are touched.
func (c *Coordinator) onDirectoriesChanged(ev bus.Event) {
	if c.cfg.Watcher != nil {
		c.cfg.Watcher.Pause()
		defer c.cfg.Watcher.Resume()
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	ids := affectedIDs(ev.Payload)
	c.logger.Info().
		Str(log.FieldEvent, "coordinator.directories_changed").
		Str("op", ev.Payload.Op).
		Str("src", ev.Payload.SrcPath).
		Str("dest", ev.Payload.DestPath).
		Ints("buttons", ids).
		Msg("button directories changed")

	for _, id := range ids {
		if c.inRange(id) {
			c.reconcile(id)
		}
	}
}

func affectedIDs(p bus.Payload) []int {
	seen := map[int]bool{}
	var ids []int
	for _, path := range []string{p.SrcPath, p.DestPath, p.Path} {
		if path == "" {
			continue
		}
		if id, ok := layout.ButtonID(filepath.Base(path)); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// reconcile brings slot id in line with the directory now on disk.
// Callers hold opMu.
func (c *Coordinator) reconcile(id int) {
	logger := c.logger.With().Int(log.FieldButtonID, id).Logger()
	dir, found := layout.ResolveDir(c.cfg.Root, id)
	b := c.button(id)

	switch {
	case !found:
		if b != nil {
			b.Stop()
			c.setButton(id, nil)
			logger.Info().Str(log.FieldDir, b.Dir()).Msg("button directory removed")
		}
		c.blank(id)

	case b != nil && b.Dir() == dir:
		b.Reload(c.ctx)
		c.push(b)

	default:
		if b != nil {
			b.Stop()
			metrics.ButtonReloadsTotal.Inc()
			logger.Info().Str("old", b.Dir()).Str("new", dir).Msg("button directory replaced")
		}
		nb := c.newButton(id, dir)
		c.setButton(id, nb)
		nb.LoadConfig(c.ctx)
		c.push(nb)
		nb.Start()
	}
}

func (c *Coordinator) onConfigChanged(bus.Event) {
	c.cfg.Settings.Reload()
}

// applySettings runs after every settings reload.
func (c *Coordinator) applySettings(s config.Settings) {
	c.cfg.Bus.SetInterval(s.DebounceInterval)
	d := c.currentDisplay()
	if d == nil {
		return
	}
	if err := d.SetBrightness(s.Brightness); err != nil && !errors.Is(err, device.ErrNotConnected) {
		c.logger.Warn().Err(err).Msg("failed to apply brightness")
	}
}

func (c *Coordinator) onImageRefresh(ev bus.Event) {
	if ev.Payload.ButtonID > 0 {
		c.requestRefresh(ev.Payload.ButtonID)
	}
}

// requestRefresh schedules an image push for id without blocking. Requests
// that arrive while a push is running collapse into one more push.
func (c *Coordinator) requestRefresh(id int) {
	c.mu.Lock()
	if c.refreshing[id] {
		c.dirty[id] = true
		c.mu.Unlock()
		return
	}
	c.refreshing[id] = true
	c.refreshWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.refreshWG.Done()
		for {
			if b := c.button(id); b != nil && b.Running() {
				c.push(b)
			}
			c.mu.Lock()
			if !c.dirty[id] {
				delete(c.refreshing, id)
				c.mu.Unlock()
				return
			}
			c.dirty[id] = false
			c.mu.Unlock()
		}
	}()
}

// push computes the image of b and writes it to the device.
func (c *Coordinator) push(b *button.Controller) {
	d := c.currentDisplay()
	if d == nil {
		return
	}
	img, err := b.Image()

	var werr error
	switch {
	case err == nil:
		werr = d.SetButtonImage(b.ID(), img)
	case errors.Is(err, button.ErrFailed):
		werr = d.SetButtonError(b.ID())
	default:
		werr = d.SetButtonBlank(b.ID())
	}
	if werr != nil && !errors.Is(werr, device.ErrNotConnected) {
		c.logger.Warn().Err(werr).Int(log.FieldButtonID, b.ID()).Msg("failed to update key image")
	}
}

func (c *Coordinator) blank(id int) {
	d := c.currentDisplay()
	if d == nil {
		return
	}
	if err := d.SetButtonBlank(id); err != nil && !errors.Is(err, device.ErrNotConnected) {
		c.logger.Debug().Err(err).Int(log.FieldButtonID, id).Msg("failed to blank key")
	}
}
