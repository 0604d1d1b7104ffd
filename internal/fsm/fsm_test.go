// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type state string
type event string

func TestMachineFire(t *testing.T) {
	var actions []string
	m, err := New[state, event]("off", []Transition[state, event]{
		{From: "off", Event: "up", To: "on", Action: func(_ context.Context, from, to state, _ event) error {
			actions = append(actions, string(from)+">"+string(to))
			return nil
		}},
		{From: "on", Event: "down", To: "off"},
	})
	require.NoError(t, err)

	require.True(t, m.Can("up"))
	require.False(t, m.Can("down"))

	got, err := m.Fire(context.Background(), "up")
	require.NoError(t, err)
	require.Equal(t, state("on"), got)
	require.Equal(t, []string{"off>on"}, actions)

	_, err = m.Fire(context.Background(), "up")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, state("on"), m.State())
}

func TestMachineGuardRejects(t *testing.T) {
	blocked := errors.New("blocked")
	m, err := New[state, event]("off", []Transition[state, event]{
		{From: "off", Event: "up", To: "on", Guard: func(context.Context, state, event) error { return blocked }},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), "up")
	require.ErrorIs(t, err, blocked)
	require.Equal(t, state("off"), m.State())
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New[state, event]("off", []Transition[state, event]{
		{From: "off", Event: "up", To: "on"},
		{From: "off", Event: "up", To: "off"},
	})
	require.Error(t, err)
}

func TestObserversSeeCommittedTransitions(t *testing.T) {
	var seen []string
	m := MustNew[state, event]("off", []Transition[state, event]{
		{From: "off", Event: "up", To: "on"},
		{From: "on", Event: "down", To: "off"},
	}, func(from, to state, ev event) {
		seen = append(seen, string(from)+"-"+string(ev)+"->"+string(to))
	})

	_, err := m.Fire(context.Background(), "up")
	require.NoError(t, err)
	_, err = m.Fire(context.Background(), "up")
	require.Error(t, err)
	_, err = m.Fire(context.Background(), "down")
	require.NoError(t, err)

	require.Equal(t, []string{"off-up->on", "on-down->off"}, seen)
	require.Less(t, m.Since(), time.Second)
}

func TestActionRaceIsDetected(t *testing.T) {
	var m *Machine[state, event]
	m = MustNew[state, event]("a", []Transition[state, event]{
		{From: "a", Event: "slow", To: "b", Action: func(ctx context.Context, _, _ state, _ event) error {
			_, err := m.Fire(ctx, "fast")
			return err
		}},
		{From: "a", Event: "fast", To: "c"},
	})

	got, err := m.Fire(context.Background(), "slow")
	require.ErrorIs(t, err, ErrConcurrentTransition)
	require.Equal(t, state("c"), got)
	require.Equal(t, state("c"), m.State())
}

func TestMustNewPanicsOnDuplicates(t *testing.T) {
	require.Panics(t, func() {
		MustNew[state, event]("off", []Transition[state, event]{
			{From: "off", Event: "up", To: "on"},
			{From: "off", Event: "up", To: "on"},
		})
	})
}
