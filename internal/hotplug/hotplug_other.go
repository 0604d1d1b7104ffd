// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !linux

package hotplug

// Listener never signals; the periodic health check covers reconnection.
type Listener struct{}

func New() (*Listener, error) { return &Listener{}, nil }

func (*Listener) Events() <-chan struct{} { return nil }

func (*Listener) Close() error { return nil }
