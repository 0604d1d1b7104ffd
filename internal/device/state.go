// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"github.com/ManuGH/deckfs/internal/fsm"
	"github.com/ManuGH/deckfs/internal/metrics"
)

// State of the device session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
)

type transition string

const (
	evConnected transition = "connected"
	evLost      transition = "lost"
)

// Wake is the reason the session loop ran a step.
type Wake int

const (
	WakeStart Wake = iota
	WakeTimer
	WakeHotplug
)

func (w Wake) String() string {
	switch w {
	case WakeStart:
		return "start"
	case WakeTimer:
		return "health_check"
	case WakeHotplug:
		return "hotplug"
	default:
		return "unknown"
	}
}

func newMachine() *fsm.Machine[State, transition] {
	return fsm.MustNew(StateDisconnected, []fsm.Transition[State, transition]{
		{From: StateDisconnected, Event: evConnected, To: StateConnected},
		{From: StateConnected, Event: evLost, To: StateDisconnected},
	}, func(_, to State, _ transition) {
		metrics.SetDeviceConnected(to == StateConnected)
	})
}
