// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/fsm"
	"github.com/ManuGH/deckfs/internal/imaging"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultHealthInterval is the period of the health check.
const DefaultHealthInterval = 10 * time.Second

// Config configures a Session.
type Config struct {
	Enumerator     Enumerator
	Hotplug        HotplugSource // optional
	Listener       Listener
	Brightness     func() int // read on every connect; nil keeps the device default
	HealthInterval time.Duration
}

// Session owns the deck handle and the reconnect loop.
// The handle is only opened and closed here; all writes go through Session.
type Session struct {
	cfg     Config
	machine *fsm.Machine[State, transition]
	logger  zerolog.Logger

	mu          sync.Mutex
	deck        Deck
	format      imaging.Format
	keyCount    int
	blank       []byte
	errImage    []byte
	info        Info
	sessionLog  zerolog.Logger
	cancel      context.CancelFunc
	runDone     chan struct{}
	noDeviceLog rate.Sometimes
}

// NewSession creates a disconnected session. Run starts the loop.
func NewSession(cfg Config) *Session {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	s := &Session{
		cfg:         cfg,
		machine:     newMachine(),
		logger:      log.WithComponent("device"),
		noDeviceLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	s.sessionLog = s.logger
	return s
}

// State returns the current connection state.
func (s *Session) State() State { return s.machine.State() }

// Connected reports whether a deck is connected.
func (s *Session) Connected() bool { return s.State() == StateConnected }

// KeyCount returns the key count of the connected deck, or 0.
func (s *Session) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyCount
}

// Info returns a snapshot of the connection.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.Connected = s.deck != nil
	return info
}

// Run drives the loop until ctx is cancelled or Shutdown is called.
// Reconnection is attempted on every step while disconnected.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	if s.runDone != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("device session already running")
	}
	s.cancel = cancel
	s.runDone = done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	var hotplug <-chan struct{}
	if s.cfg.Hotplug != nil {
		hotplug = s.cfg.Hotplug.Events()
	}

	s.step(ctx, WakeStart)
	timer := time.NewTimer(s.cfg.HealthInterval)
	defer timer.Stop()

	for {
		var wake Wake
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-hotplug:
			if !ok {
				hotplug = nil
				continue
			}
			wake = WakeHotplug
		case <-timer.C:
			wake = WakeTimer
		}
		s.step(ctx, wake)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.HealthInterval)
	}
}

// step is the single transition function of the loop.
func (s *Session) step(ctx context.Context, wake Wake) {
	if s.State() == StateConnected && !s.healthy() {
		s.currentLog().Warn().
			Str(log.FieldEvent, "device.unhealthy").
			Str("wake", wake.String()).
			Msg("device no longer healthy, disconnecting")
		s.disconnect(ctx, wake.String())
	}
	if s.State() == StateDisconnected {
		if err := s.connect(ctx); err != nil {
			s.noDeviceLog.Do(func() {
				s.logger.Info().Err(err).Str("wake", wake.String()).Msg("device not available, will retry")
			})
		}
	}
}

func (s *Session) currentLog() *zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.sessionLog
	return &l
}

// healthy is "device reports connected" and "handle reports open".
func (s *Session) healthy() bool {
	s.mu.Lock()
	d := s.deck
	s.mu.Unlock()
	if d == nil {
		return false
	}
	return safeBool(d.Connected) && safeBool(d.IsOpen)
}

func safeBool(fn func() bool) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fn()
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device call panicked: %v", r)
		}
	}()
	return fn()
}

func (s *Session) connect(ctx context.Context) error {
	decks, err := s.cfg.Enumerator.Enumerate()
	if err != nil {
		metrics.IncDeviceConnect("enumerate_error")
		return fmt.Errorf("enumerate: %w", err)
	}
	if len(decks) == 0 {
		metrics.IncDeviceConnect("not_found")
		return ErrNoDevice
	}
	d := decks[0]

	if err := safeCall(d.Open); err != nil {
		metrics.IncDeviceConnect("open_error")
		return fmt.Errorf("open: %w", err)
	}
	if err := safeCall(d.Reset); err != nil {
		_ = safeCall(d.Close)
		metrics.IncDeviceConnect("reset_error")
		return fmt.Errorf("reset: %w", err)
	}
	if s.cfg.Brightness != nil {
		if err := safeCall(func() error { return d.SetBrightness(s.cfg.Brightness()) }); err != nil {
			s.logger.Warn().Err(err).Msg("failed to apply brightness")
		}
	}

	format := d.ImageFormat()
	blank, err := imaging.Blank(format)
	if err != nil {
		_ = safeCall(d.Close)
		metrics.IncDeviceConnect("format_error")
		return fmt.Errorf("prepare placeholder: %w", err)
	}
	errImg, err := imaging.ErrorPlaceholder(format)
	if err != nil {
		_ = safeCall(d.Close)
		metrics.IncDeviceConnect("format_error")
		return fmt.Errorf("prepare placeholder: %w", err)
	}

	serial, serr := d.Serial()
	if serr != nil {
		serial = ""
	}
	keyCount := d.KeyCount()
	sessionID := uuid.NewString()
	sessionLog := s.logger.With().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldDevice, d.DeckType()).
		Str(log.FieldSerial, serial).
		Int(log.FieldKeyCount, keyCount).
		Logger()

	s.mu.Lock()
	s.deck = d
	s.format = format
	s.keyCount = keyCount
	s.blank = blank
	s.errImage = errImg
	s.sessionLog = sessionLog
	s.info = Info{
		DeckType:    d.DeckType(),
		Serial:      serial,
		KeyCount:    keyCount,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
	}
	s.mu.Unlock()

	d.SetKeyCallback(s.onKey)

	if _, err := s.machine.Fire(log.ContextWithSessionID(ctx, sessionID), evConnected); err != nil {
		s.logger.Error().Err(err).Msg("device state transition rejected")
	}
	metrics.IncDeviceConnect("ok")
	sessionLog.Info().
		Str(log.FieldEvent, "device.connected").
		Str(log.FieldOldState, string(StateDisconnected)).
		Str(log.FieldNewState, string(StateConnected)).
		Msg("device connected")

	if s.cfg.Listener != nil {
		s.cfg.Listener.OnConnect(keyCount)
	}
	return nil
}

func (s *Session) onKey(key int, pressed bool) {
	if !pressed {
		return
	}
	metrics.KeyPressesTotal.Inc()
	s.currentLog().Debug().Int(log.FieldKey, key).Int(log.FieldButtonID, key+1).Msg("key pressed")
	if s.cfg.Listener != nil {
		s.cfg.Listener.OnKeyPress(key + 1)
	}
}

// disconnect notifies the listener while the handle is still open, then closes it.
func (s *Session) disconnect(ctx context.Context, reason string) {
	if s.State() != StateConnected {
		return
	}
	if s.cfg.Listener != nil {
		s.cfg.Listener.OnDisconnect()
	}

	s.mu.Lock()
	d := s.deck
	logger := s.sessionLog
	s.deck = nil
	s.keyCount = 0
	s.blank, s.errImage = nil, nil
	s.info = Info{}
	s.sessionLog = s.logger
	s.mu.Unlock()

	if d != nil {
		d.SetKeyCallback(nil)
		if err := safeCall(d.Close); err != nil {
			logger.Debug().Err(err).Msg("error closing device handle")
		}
	}
	if _, err := s.machine.Fire(ctx, evLost); err != nil {
		logger.Error().Err(err).Msg("device state transition rejected")
	}
	metrics.IncDeviceDisconnect(reason)
	logger.Info().
		Str(log.FieldEvent, "device.disconnected").
		Str("reason", reason).
		Str(log.FieldOldState, string(StateConnected)).
		Str(log.FieldNewState, string(StateDisconnected)).
		Msg("device disconnected")
}

// Shutdown stops the loop, waiting at most timeout, then disconnects.
func (s *Session) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.runDone
	s.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-time.After(timeout):
			err = ErrShutdownTimeout
		}
	}
	s.disconnect(context.Background(), "shutdown")
	return err
}

// SetBrightness applies a brightness percentage to the connected deck.
func (s *Session) SetBrightness(percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deck == nil {
		return ErrNotConnected
	}
	d := s.deck
	return safeCall(func() error { return d.SetBrightness(percent) })
}

// SetButtonImage converts img to the device format and shows it on buttonID.
// A nil image blanks the key.
func (s *Session) SetButtonImage(buttonID int, img image.Image) error {
	s.mu.Lock()
	format := s.format
	connected := s.deck != nil
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if img == nil {
		return s.SetButtonBlank(buttonID)
	}
	data, err := imaging.Prepare(img, format)
	if err != nil {
		return err
	}
	return s.write(buttonID, func() []byte { return data })
}

// SetButtonBlank shows the cached blank image.
func (s *Session) SetButtonBlank(buttonID int) error {
	return s.write(buttonID, func() []byte { return s.blank })
}

// SetButtonError shows the cached error placeholder.
func (s *Session) SetButtonError(buttonID int) error {
	return s.write(buttonID, func() []byte { return s.errImage })
}

// BlankAll blanks every key, ignoring individual failures.
func (s *Session) BlankAll() {
	for id := 1; id <= s.KeyCount(); id++ {
		if err := s.SetButtonBlank(id); err != nil {
			s.logger.Debug().Err(err).Int(log.FieldButtonID, id).Msg("failed to blank key")
		}
	}
}

// write runs data() and the device write under the session lock.
func (s *Session) write(buttonID int, data func() []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deck == nil {
		return ErrNotConnected
	}
	if buttonID < 1 || buttonID > s.keyCount {
		return fmt.Errorf("%w: %d", ErrInvalidKey, buttonID)
	}
	d, payload := s.deck, data()
	return safeCall(func() error { return d.SetKeyImage(buttonID-1, payload) })
}
