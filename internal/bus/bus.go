// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process event hub with per-key debouncing.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by Publish after Shutdown.
var ErrClosed = errors.New("event bus closed")

// DefaultInterval is the debounce interval used until SetInterval is called.
const DefaultInterval = 100 * time.Millisecond

type subscription struct {
	id uint64
	fn Handler
}

type pendingEvent struct {
	event Event
	timer *time.Timer
	seq   uint64
}

// Bus delivers events to subscribers either immediately or after a
// debounce interval keyed by a caller-chosen string.
// At most one event per key is pending; publishing under the same key
// replaces it and re-arms the timer.
type Bus struct {
	mu      sync.Mutex
	subs    map[EventType][]subscription
	pending map[string]*pendingEvent
	nextID  uint64
	seq     uint64
	closed  bool

	interval atomic.Int64
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a bus with the given debounce interval (DefaultInterval if <= 0).
func New(interval time.Duration) *Bus {
	b := &Bus{
		subs:    make(map[EventType][]subscription),
		pending: make(map[string]*pendingEvent),
		now:     time.Now,
		logger:  log.WithComponent("bus"),
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	b.interval.Store(int64(interval))
	return b
}

// Interval returns the current debounce interval.
func (b *Bus) Interval() time.Duration {
	return time.Duration(b.interval.Load())
}

// SetInterval changes the debounce interval for subsequent publishes.
// Already armed timers keep their original deadline.
func (b *Bus) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := time.Duration(b.interval.Swap(int64(d))); old != d {
		b.logger.Debug().Dur("old", old).Dur("new", d).Msg("debounce interval changed")
	}
}

// Subscribe registers fn for events of type t and returns an id for Unsubscribe.
// Handlers run in subscription order.
func (b *Bus) Subscribe(t EventType, fn Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[t] = append(b.subs[t], subscription{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe removes a subscription; unknown ids are ignored.
func (b *Bus) Unsubscribe(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lst := b.subs[t]
	out := make([]subscription, 0, len(lst))
	for _, s := range lst {
		if s.id != id {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(b.subs, t)
	} else {
		b.subs[t] = out
	}
}

// Publish delivers synchronously on the caller's goroutine.
func (b *Bus) Publish(t EventType, p Payload) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("publish %s: %w", t, ErrClosed)
	}
	ev := Event{Type: t, Payload: p, Timestamp: b.now()}
	b.mu.Unlock()

	b.dispatch(ev, "immediate")
	return nil
}

// PublishDebounced stores the event under key and delivers it once no newer
// event for key arrived within the interval. An optional override replaces
// the bus interval for this publish only.
func (b *Bus) PublishDebounced(t EventType, p Payload, key string, override ...time.Duration) error {
	if key == "" {
		return b.Publish(t, p)
	}
	wait := b.Interval()
	if len(override) > 0 && override[0] > 0 {
		wait = override[0]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish %s: %w", t, ErrClosed)
	}

	if prev, ok := b.pending[key]; ok {
		prev.timer.Stop()
		metrics.IncBusSuperseded(string(prev.event.Type))
	}

	b.seq++
	seq := b.seq
	pe := &pendingEvent{
		event: Event{Type: t, Payload: p, Timestamp: b.now()},
		seq:   seq,
	}
	pe.timer = time.AfterFunc(wait, func() { b.fire(key, seq) })
	b.pending[key] = pe
	return nil
}

// fire delivers the pending event for key unless it was replaced after this timer was armed.
func (b *Bus) fire(key string, seq uint64) {
	b.mu.Lock()
	pe, ok := b.pending[key]
	if !ok || pe.seq != seq || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	b.mu.Unlock()

	b.dispatch(pe.event, "debounced")
}

func (b *Bus) dispatch(ev Event, mode string) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.Unlock()

	metrics.IncBusDelivery(string(ev.Type), mode)
	for _, s := range subs {
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBusHandlerFailure(string(ev.Type))
			b.logger.Error().
				Str(log.FieldEvent, "bus.handler_panic").
				Str("event_type", string(ev.Type)).
				Uint64("subscription", s.id).
				Interface("panic", r).
				Msg("event handler failed")
		}
	}()
	s.fn(ev)
}

// Pending reports how many debounced events are waiting.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Shutdown cancels pending timers and drops all subscribers. Safe to call twice.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, pe := range b.pending {
		pe.timer.Stop()
		delete(b.pending, key)
	}
	b.subs = make(map[EventType][]subscription)
	b.logger.Debug().Msg("event bus shut down")
}
