// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small, strict finite state machine.
//
// A machine is built from a static edge table. Firing an event without an
// edge from the current state is an error; nothing is implied.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidTransition is returned by Fire when no edge exists for (state, event).
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConcurrentTransition is returned when the state moved while a guard or action ran.
	ErrConcurrentTransition = errors.New("concurrent transition")
)

// Transition is one edge. Guard may veto it; Action runs before the state changes.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Observer is called after every committed transition, outside the lock.
type Observer[S ~string, E ~string] func(from, to S, event E)

type edge[S ~string, E ~string] struct {
	from  S
	event E
}

// Machine holds the current state and the edge table.
type Machine[S ~string, E ~string] struct {
	edges     map[edge[S, E]]Transition[S, E]
	observers []Observer[S, E]

	mu      sync.Mutex
	state   S
	entered time.Time
}

// New validates the table and returns a machine in initial.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E], observers ...Observer[S, E]) (*Machine[S, E], error) {
	edges := make(map[edge[S, E]]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := edge[S, E]{t.From, t.Event}
		if _, dup := edges[k]; dup {
			return nil, fmt.Errorf("duplicate transition: %s on %s", t.From, t.Event)
		}
		edges[k] = t
	}
	return &Machine[S, E]{
		edges:     edges,
		observers: observers,
		state:     initial,
		entered:   time.Now(),
	}, nil
}

// MustNew is New for tables known at compile time.
func MustNew[S ~string, E ~string](initial S, transitions []Transition[S, E], observers ...Observer[S, E]) *Machine[S, E] {
	m, err := New(initial, transitions, observers...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Since returns how long the machine has been in its current state.
func (m *Machine[S, E]) Since() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.entered)
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.edges[edge[S, E]{m.state, event}]
	return ok
}

// Fire applies event. Guard and Action run without the lock held, so a
// transition that raced them is rejected with ErrConcurrentTransition.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.edges[edge[S, E]{from, event}]
	m.mu.Unlock()
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, t.To, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("%w: from=%s cur=%s event=%s", ErrConcurrentTransition, from, cur, event)
	}
	m.state = t.To
	m.entered = time.Now()
	m.mu.Unlock()

	for _, obs := range m.observers {
		obs(from, t.To, event)
	}
	return t.To, nil
}
