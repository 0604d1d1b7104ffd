// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

var (
	// ErrInvalidSetting marks a settings value that was present but unusable.
	// Loading never fails because of it; the default is used instead.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrConfigRoot is returned when the configuration root is unusable.
	ErrConfigRoot = errors.New("configuration root unavailable")
)
