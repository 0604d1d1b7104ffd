// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device owns the connection to the physical key deck.
package device

import (
	"errors"
	"time"

	"github.com/ManuGH/deckfs/internal/imaging"
)

var (
	// ErrNotConnected is returned by writes while no deck is connected.
	ErrNotConnected = errors.New("device not connected")
	// ErrInvalidKey is returned for a button id outside 1..KeyCount.
	ErrInvalidKey = errors.New("key index out of range")
	// ErrNoDevice is returned by connect when enumeration finds nothing.
	ErrNoDevice = errors.New("no device found")
	// ErrShutdownTimeout is returned when the loop does not exit in time.
	ErrShutdownTimeout = errors.New("device loop did not stop in time")
)

// KeyCallback receives raw key transitions with a 0-based key index.
type KeyCallback func(key int, pressed bool)

// Deck is a driver handle for one device. Every method may fail on a
// device that vanished; the session treats panics as failures too.
type Deck interface {
	Open() error
	Close() error
	Reset() error
	Connected() bool
	IsOpen() bool
	KeyCount() int
	ImageFormat() imaging.Format
	SetKeyImage(key int, data []byte) error
	SetBrightness(percent int) error
	SetKeyCallback(fn KeyCallback)
	DeckType() string
	Serial() (string, error)
}

// Enumerator lists attached decks.
type Enumerator interface {
	Enumerate() ([]Deck, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func() ([]Deck, error)

func (f EnumeratorFunc) Enumerate() ([]Deck, error) { return f() }

// HotplugSource signals that USB devices were added or removed.
type HotplugSource interface {
	Events() <-chan struct{}
}

// Listener receives session transitions. Calls come from the session loop
// or the driver's read goroutine; implementations must not block for long.
type Listener interface {
	OnConnect(keyCount int)
	OnDisconnect()
	OnKeyPress(buttonID int)
}

// Info describes the current connection.
type Info struct {
	Connected   bool      `json:"connected"`
	DeckType    string    `json:"deck_type,omitempty"`
	Serial      string    `json:"serial,omitempty"`
	KeyCount    int       `json:"key_count"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}
