// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package streamdeck drives Elgato Stream Deck gen-2 devices over HID.
package streamdeck

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/deckfs/internal/device"
	"github.com/ManuGH/deckfs/internal/imaging"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/rs/zerolog"
	"github.com/sstallion/go-hid"
)

const readTimeout = 250 * time.Millisecond

var (
	initOnce sync.Once
	initErr  error
)

func initHID() error {
	initOnce.Do(func() { initErr = hid.Init() })
	return initErr
}

// Enumerator lists attached Stream Decks.
type Enumerator struct{}

// Enumerate returns one Deck per supported device, unopened.
func (Enumerator) Enumerate() ([]device.Deck, error) {
	if err := initHID(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	var decks []device.Deck
	err := hid.Enumerate(VendorID, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if m, ok := models[info.ProductID]; ok {
			decks = append(decks, newDeck(*info, m))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return decks, nil
}

// Deck is one Stream Deck. It implements device.Deck.
type Deck struct {
	info   hid.DeviceInfo
	model  model
	logger zerolog.Logger

	mu   sync.Mutex
	dev  *hid.Device
	stop chan struct{}
	done chan struct{}

	readFailed atomic.Bool

	cbMu sync.Mutex
	cb   device.KeyCallback
}

var _ device.Deck = (*Deck)(nil)

func newDeck(info hid.DeviceInfo, m model) *Deck {
	return &Deck{
		info:  info,
		model: m,
		logger: log.WithComponent("streamdeck").With().
			Str(log.FieldDevice, m.name).
			Str(log.FieldPath, info.Path).
			Logger(),
	}
}

// Open opens the HID path and starts the key reader.
func (d *Deck) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return nil
	}
	dev, err := hid.OpenPath(d.info.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.info.Path, err)
	}
	d.dev = dev
	d.readFailed.Store(false)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.readLoop(dev, d.stop, d.done)
	return nil
}

// Close stops the reader before releasing the handle.
func (d *Deck) Close() error {
	d.mu.Lock()
	dev, stop, done := d.dev, d.stop, d.done
	d.dev = nil
	d.mu.Unlock()
	if dev == nil {
		return nil
	}
	close(stop)
	<-done
	return dev.Close()
}

func (d *Deck) readLoop(dev *hid.Device, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, keyStateOffset+d.model.keys)
	prev := make([]bool, d.model.keys)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := dev.ReadWithTimeout(buf, readTimeout)
		if errors.Is(err, hid.ErrTimeout) {
			continue
		}
		if err != nil {
			d.readFailed.Store(true)
			d.logger.Warn().Err(err).Msg("key reader stopped")
			return
		}
		states := keyStates(buf[:n], d.model.keys)
		for i, pressed := range states {
			if pressed != prev[i] {
				d.emit(i, pressed)
			}
		}
		prev = states
	}
}

func (d *Deck) emit(key int, pressed bool) {
	d.cbMu.Lock()
	cb := d.cb
	d.cbMu.Unlock()
	if cb != nil {
		cb(key, pressed)
	}
}

// SetKeyCallback replaces the key callback; nil disables it.
func (d *Deck) SetKeyCallback(fn device.KeyCallback) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.cb = fn
}

func (d *Deck) handle() (*hid.Device, error) {
	if d.dev == nil {
		return nil, device.ErrNotConnected
	}
	return d.dev, nil
}

// Reset clears every key and restores the logo.
func (d *Deck) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.handle()
	if err != nil {
		return err
	}
	_, err = dev.SendFeatureReport(resetReport())
	return err
}

// SetBrightness sets the backlight in percent.
func (d *Deck) SetBrightness(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.handle()
	if err != nil {
		return err
	}
	_, err = dev.SendFeatureReport(brightnessReport(percent))
	return err
}

// SetKeyImage writes an encoded JPEG to a 0-based key.
func (d *Deck) SetKeyImage(key int, data []byte) error {
	if key < 0 || key >= d.model.keys {
		return fmt.Errorf("%w: %d", device.ErrInvalidKey, key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.handle()
	if err != nil {
		return err
	}
	for _, r := range imageReports(key, data) {
		if _, err := dev.Write(r); err != nil {
			return fmt.Errorf("write key %d: %w", key, err)
		}
	}
	return nil
}

// Connected is false once the reader failed or the path left the bus.
func (d *Deck) Connected() bool {
	if d.readFailed.Load() {
		return false
	}
	present := false
	_ = hid.Enumerate(d.info.VendorID, d.info.ProductID, func(info *hid.DeviceInfo) error {
		if info.Path == d.info.Path {
			present = true
		}
		return nil
	})
	return present
}

// IsOpen reports whether the handle is held.
func (d *Deck) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev != nil
}

func (d *Deck) KeyCount() int { return d.model.keys }

func (d *Deck) DeckType() string { return d.model.name }

// ImageFormat is a square JPEG rotated 180 degrees.
func (d *Deck) ImageFormat() imaging.Format {
	return imaging.Format{
		Width:    d.model.imageSize,
		Height:   d.model.imageSize,
		FlipH:    true,
		FlipV:    true,
		Encoding: imaging.JPEG,
	}
}

// Serial reads the serial number feature report, falling back to the
// enumeration string.
func (d *Deck) Serial() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.handle()
	if err != nil {
		return d.info.SerialNbr, err
	}
	buf := featureReport(0x06)
	n, err := dev.GetFeatureReport(buf)
	if err != nil || n <= 2 {
		return d.info.SerialNbr, nil
	}
	if s := serialFromReport(buf[:n]); s != "" {
		return s, nil
	}
	return d.info.SerialNbr, nil
}
