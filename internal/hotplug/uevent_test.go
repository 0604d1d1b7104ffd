// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hotplug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(header string, vars ...string) []byte {
	return []byte(header + "\x00" + strings.Join(vars, "\x00") + "\x00")
}

func TestParseUevent(t *testing.T) {
	ev, ok := ParseUevent(msg("remove@/devices/pci0000:00/usb1/1-2",
		"ACTION=remove", "DEVPATH=/devices/pci0000:00/usb1/1-2", "SUBSYSTEM=usb", "PRODUCT=fd9/80/200"))
	require.True(t, ok)
	assert.Equal(t, "remove", ev.Action)
	assert.Equal(t, "usb", ev.Subsystem)
	assert.Equal(t, "fd9/80/200", ev.Vars["PRODUCT"])

	_, ok = ParseUevent([]byte("libudev\x00\xfe\xed"))
	assert.False(t, ok)
}

func TestUeventRelevant(t *testing.T) {
	tests := []struct {
		name string
		vars []string
		want bool
	}{
		{"elgato remove", []string{"ACTION=remove", "SUBSYSTEM=usb", "PRODUCT=fd9/80/200"}, true},
		{"other vendor remove", []string{"ACTION=remove", "SUBSYSTEM=usb", "PRODUCT=46d/c52b/1211"}, false},
		{"remove without product", []string{"ACTION=remove", "SUBSYSTEM=usb"}, true},
		{"any add", []string{"ACTION=add", "SUBSYSTEM=usb", "PRODUCT=46d/c52b/1211"}, true},
		{"bind", []string{"ACTION=bind", "SUBSYSTEM=usb", "PRODUCT=fd9/80/200"}, false},
		{"hidraw", []string{"ACTION=add", "SUBSYSTEM=hidraw"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ParseUevent(msg("x@/devices/x", tt.vars...))
			require.True(t, ok)
			assert.Equal(t, tt.want, ev.Relevant())
		})
	}
}
