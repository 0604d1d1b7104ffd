// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hotplug reports USB add/remove activity so the device session can
// check its connection without waiting for the next health check.
package hotplug

import (
	"bytes"
	"strconv"
	"strings"
)

// ElgatoVendorID is the USB vendor of Stream Deck devices.
const ElgatoVendorID = 0x0fd9

// Uevent is a parsed kernel uevent.
type Uevent struct {
	Action    string
	Subsystem string
	Vars      map[string]string
}

// ParseUevent parses a NUL-separated kernel uevent message
// ("add@/devices/...\0ACTION=add\0SUBSYSTEM=usb\0...").
func ParseUevent(msg []byte) (Uevent, bool) {
	parts := bytes.Split(msg, []byte{0})
	if len(parts) < 2 || !bytes.Contains(parts[0], []byte("@")) {
		return Uevent{}, false
	}
	ev := Uevent{Vars: make(map[string]string, len(parts))}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(string(p), "=")
		if !ok {
			continue
		}
		ev.Vars[k] = v
	}
	ev.Action = ev.Vars["ACTION"]
	ev.Subsystem = ev.Vars["SUBSYSTEM"]
	return ev, ev.Action != ""
}

// vendor extracts the vendor id from PRODUCT ("fd9/80/100").
func (e Uevent) vendor() (uint64, bool) {
	product, ok := e.Vars["PRODUCT"]
	if !ok {
		return 0, false
	}
	vid, _, _ := strings.Cut(product, "/")
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Relevant reports whether the event may change the deck's availability:
// any USB add, or a USB remove of an Elgato (or unidentified) device.
func (e Uevent) Relevant() bool {
	if e.Subsystem != "usb" {
		return false
	}
	switch e.Action {
	case "add":
		return true
	case "remove":
		v, ok := e.vendor()
		return !ok || v == ElgatoVendorID
	default:
		return false
	}
}
