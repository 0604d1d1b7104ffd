// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watcher turns raw filesystem notifications under the configuration
// root into debounced bus events.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/bus"
	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/layout"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Debounce keys that are not per button.
const (
	KeyConfig      = "config"
	KeyDirectories = "button_directories"
)

// DefaultDirectoryInterval is the debounce window for directory structure
// changes. A rename arrives as two notifications and must coalesce.
const DefaultDirectoryInterval = time.Second

// pairWindow bounds how long a directory rename waits for its create half.
const pairWindow = 500 * time.Millisecond

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("watcher stopped")

// Publisher is the part of the bus the watcher needs.
type Publisher interface {
	PublishDebounced(t bus.EventType, p bus.Payload, key string, override ...time.Duration) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDirectoryInterval overrides DefaultDirectoryInterval.
func WithDirectoryInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.dirInterval = d
		}
	}
}

type rename struct {
	path string
	at   time.Time
}

// Watcher recursively observes root.
type Watcher struct {
	root        string
	settings    string
	events      Publisher
	dirInterval time.Duration
	logger      zerolog.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	dirs     map[string]struct{}
	paused   int
	renamed  *rename
	started  bool
	stopped  bool
	loopDone chan struct{}
}

// New creates a watcher for root. Nothing is observed until Start.
func New(root string, events Publisher, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:        filepath.Clean(root),
		settings:    filepath.Clean(config.SettingsPath(root)),
		events:      events,
		dirInterval: DefaultDirectoryInterval,
		logger:      log.WithComponent("watcher").With().Str(log.FieldPath, root).Logger(),
		fsw:         fsw,
		dirs:        make(map[string]struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start registers every directory below root and begins delivering events.
// Watches are in place when Start returns.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	go w.loop()

	w.logger.Info().
		Str(log.FieldEvent, "watcher.started").
		Int("directories", w.watchCount()).
		Msg("watching configuration root")
	return nil
}

// Stop ends the watch. Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.loopDone
	}
	w.logger.Info().Str(log.FieldEvent, "watcher.stopped").Msg("watcher stopped")
	return err
}

// Pause drops events until the matching Resume. Calls nest.
func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused++
	w.mu.Unlock()
	w.logger.Debug().Msg("watcher paused")
}

// Resume undoes one Pause.
func (w *Watcher) Resume() {
	w.mu.Lock()
	if w.paused > 0 {
		w.paused--
	}
	w.mu.Unlock()
	w.logger.Debug().Msg("watcher resumed")
}

// Paused reports whether events are currently dropped.
func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused > 0
}

func (w *Watcher) watchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Vanished while walking.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn().Err(err).Str(log.FieldDir, path).Msg("cannot watch directory")
			return nil
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// forgetTree drops path and everything below it from the watch set.
// Returns whether path itself was a watched directory.
func (w *Watcher) forgetTree(path string) bool {
	prefix := path + string(filepath.Separator)
	var gone []string

	w.mu.Lock()
	_, wasDir := w.dirs[path]
	for d := range w.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			gone = append(gone, d)
			delete(w.dirs, d)
		}
	}
	w.mu.Unlock()

	for _, d := range gone {
		// The kernel may already have dropped the watch.
		_ = w.fsw.Remove(d)
	}
	return wasDir
}

func (w *Watcher) isWatchedDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[path]
	return ok
}

func (w *Watcher) loop() {
	defer close(w.loopDone)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("filesystem watch error")
		}
	}
}

// handle keeps the watch set current and classifies ev.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
		metrics.IncWatcherEvent("ignored")
		return
	}
	path := filepath.Clean(ev.Name)

	var isDir bool
	switch {
	case ev.Has(fsnotify.Create):
		fi, err := os.Lstat(path)
		if err != nil {
			// Already gone again.
			return
		}
		isDir = fi.IsDir()
		if isDir {
			if err := w.addTree(path); err != nil {
				w.logger.Warn().Err(err).Str(log.FieldDir, path).Msg("cannot watch new directory")
			}
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		isDir = w.forgetTree(path)
	default:
		isDir = w.isWatchedDir(path)
	}

	if w.Paused() {
		metrics.IncWatcherEvent("paused")
		return
	}
	if isDir {
		w.directoryEvent(ev, path)
		return
	}
	w.fileEvent(ev, path)
}

func opOf(ev fsnotify.Event) string {
	switch {
	case ev.Has(fsnotify.Create):
		return bus.OpCreated
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return bus.OpDeleted
	default:
		return bus.OpModified
	}
}

func (w *Watcher) fileEvent(ev fsnotify.Event, path string) {
	op := opOf(ev)
	if path == w.settings {
		metrics.IncWatcherEvent("config")
		w.publish(bus.ConfigChanged, bus.Payload{Op: op, Path: path}, KeyConfig)
		return
	}

	dirName := filepath.Base(filepath.Dir(path))
	if !layout.IsButtonDir(dirName) {
		metrics.IncWatcherEvent("ignored")
		return
	}
	role, ok := layout.RoleOf(filepath.Base(path))
	if !ok {
		metrics.IncWatcherEvent("ignored")
		return
	}
	metrics.IncWatcherEvent("file")
	w.publish(bus.FileChanged, bus.Payload{Op: op, Path: path}, dirName+":"+role)
}

// directoryEvent publishes structure changes of top-level button directories.
// A rename is reported by the kernel as a rename of the old path followed by
// a create of the new one; the pair becomes a single moved event.
func (w *Watcher) directoryEvent(ev fsnotify.Event, path string) {
	if ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
		metrics.IncWatcherEvent("ignored")
		return
	}
	if filepath.Dir(path) != w.root {
		metrics.IncWatcherEvent("ignored")
		return
	}

	now := time.Now()
	w.mu.Lock()
	prev := w.renamed
	w.renamed = nil
	if ev.Has(fsnotify.Rename) {
		w.renamed = &rename{path: path, at: now}
	}
	w.mu.Unlock()

	var p bus.Payload
	switch {
	case ev.Has(fsnotify.Create):
		if prev != nil && now.Sub(prev.at) <= pairWindow &&
			(layout.IsButtonDir(filepath.Base(prev.path)) || layout.IsButtonDir(filepath.Base(path))) {
			p = bus.Payload{Op: bus.OpMoved, Path: path, SrcPath: prev.path, DestPath: path}
			break
		}
		if !layout.IsButtonDir(filepath.Base(path)) {
			metrics.IncWatcherEvent("ignored")
			return
		}
		p = bus.Payload{Op: bus.OpCreated, Path: path, DestPath: path}
	default:
		if !layout.IsButtonDir(filepath.Base(path)) {
			metrics.IncWatcherEvent("ignored")
			return
		}
		// An unpaired rename reads as a delete; a following create under
		// the same key supersedes it with the move.
		p = bus.Payload{Op: bus.OpDeleted, Path: path, SrcPath: path}
	}

	metrics.IncWatcherEvent("directory")
	w.publish(bus.ButtonDirectoriesChanged, p, KeyDirectories, w.dirInterval)
}

func (w *Watcher) publish(t bus.EventType, p bus.Payload, key string, override ...time.Duration) {
	w.logger.Debug().
		Str(log.FieldEvent, string(t)).
		Str("op", p.Op).
		Str(log.FieldPath, p.Path).
		Str(log.FieldKey, key).
		Msg("filesystem change")
	if err := w.events.PublishDebounced(t, p, key, override...); err != nil {
		w.logger.Debug().Err(err).Msg("event not published")
	}
}
