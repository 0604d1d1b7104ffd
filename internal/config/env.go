// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
)

// fromEnv returns parse(value of key), or def when the variable is unset,
// empty or does not parse. The outcome is logged at debug level; a bad
// value is a warning.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Interface("default", def).Str("source", "default").Msg("using default value")
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("key", key).
			Str("value", v).
			Interface("default", def).
			Msg("invalid environment variable, using default")
		return def
	}
	logger.Debug().Str("key", key).Interface("value", parsed).Str("source", "environment").Msg("using environment variable")
	return parsed
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	return fromEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from the environment or returns defaultValue.
func ParseInt(key string, defaultValue int) int {
	return fromEnv(key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float64 from the environment or returns defaultValue.
func ParseFloat(key string, defaultValue float64) float64 {
	return fromEnv(key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// ParseDuration reads a Go duration ("5s", "250ms") from the environment.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return fromEnv(key, defaultValue, time.ParseDuration)
}
