// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"sync"

	xglog "github.com/ManuGH/deckfs/internal/log"
	"github.com/rs/zerolog"
)

// Holder holds the current Settings with atomic reloading.
// The file watcher reports config.yaml changes; Holder only reloads and
// notifies, it does not watch anything itself.
type Holder struct {
	mu      sync.RWMutex
	root    string
	current Settings
	logger  zerolog.Logger

	listenMu  sync.RWMutex
	listeners []func(Settings)
}

// NewHolder loads the initial settings from root.
func NewHolder(root string) *Holder {
	return &Holder{
		root:    root,
		current: LoadSettings(root),
		logger:  xglog.WithComponent("config"),
	}
}

// NewStaticHolder wraps fixed settings; Reload re-reads root if it is non-empty.
func NewStaticHolder(s Settings) *Holder {
	return &Holder{current: s, logger: xglog.WithComponent("config")}
}

// Get returns the current settings (thread-safe read).
func (h *Holder) Get() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads config.yaml and notifies listeners with the new values.
func (h *Holder) Reload() Settings {
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_start").Msg("configuration file changed, reloading")

	next := h.Get()
	if h.root != "" {
		next = LoadSettings(h.root)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev != next {
		h.logger.Info().
			Str(xglog.FieldEvent, "config.reload_success").
			Int("brightness", next.Brightness).
			Dur("debounce_interval", next.DebounceInterval).
			Msg("configuration changed")
	}

	h.listenMu.RLock()
	ls := append([]func(Settings){}, h.listeners...)
	h.listenMu.RUnlock()
	for _, fn := range ls {
		fn(next)
	}
	return next
}

// OnReload registers fn to be called after every Reload.
func (h *Holder) OnReload(fn func(Settings)) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, fn)
}
