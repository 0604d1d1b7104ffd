// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"net/http"
	"time"

	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/device"
)

// Deps contains the pieces of the daemon that are swapped out in tests.
type Deps struct {
	// Enumerator finds decks (streamdeck.Enumerator in production).
	Enumerator device.Enumerator

	// Hotplug wakes the device loop early. Nil opens the netlink listener
	// unless DisableHotplug is set.
	Hotplug        device.HotplugSource
	DisableHotplug bool

	// HealthInterval overrides the device health check period.
	HealthInterval time.Duration

	// ButtonOptions are applied to every button slot.
	ButtonOptions []button.Option

	// MetricsHandler serves /metrics (promhttp.Handler when nil).
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Enumerator == nil {
		return ErrMissingEnumerator
	}
	return nil
}
