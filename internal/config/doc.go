// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for deckfs.
//
// Two layers exist: daemon options (config root, logging, metrics, status
// file) resolved from flags and DECKFS_* environment variables, and the
// runtime Settings read from <root>/config.yaml, which can be reloaded while
// the daemon runs.
package config
