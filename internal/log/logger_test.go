// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "deckfs-test", Version: "v0"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("bus")
	l.Info().Str(FieldEvent, "bus.test").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "bus", entry[FieldComponent])
	require.Equal(t, "deckfs-test", entry["service"])
	require.Equal(t, "v0", entry["version"])
	require.Equal(t, "bus.test", entry[FieldEvent])
}

func TestWithContextSessionID(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	ctx := ContextWithSessionID(context.Background(), "abc")
	require.Equal(t, "abc", SessionIDFromContext(ctx))

	l := WithContext(ctx, Base())
	l.Info().Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "abc", entry[FieldSessionID])
}

func TestSessionIDFromNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	require.Empty(t, SessionIDFromContext(nil))
}
