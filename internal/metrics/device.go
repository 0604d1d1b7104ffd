// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_device_connect_attempts_total",
		Help: "Device connection attempts by result",
	}, []string{"result"})

	DeviceDisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_device_disconnects_total",
		Help: "Device disconnections by detection source (hotplug, health_check, shutdown)",
	}, []string{"reason"})

	DeviceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deckfs_device_connected",
		Help: "1 while a device session is open, 0 otherwise",
	})

	KeyPressesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deckfs_key_presses_total",
		Help: "Physical key presses forwarded to buttons",
	})

	ButtonsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deckfs_buttons_active",
		Help: "Number of button slots with a resolved working directory",
	})

	ButtonReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deckfs_button_reloads_total",
		Help: "Single-button reloads triggered by directory structure changes",
	})
)

func IncDeviceConnect(result string) {
	DeviceConnectsTotal.WithLabelValues(result).Inc()
}

func IncDeviceDisconnect(reason string) {
	DeviceDisconnectsTotal.WithLabelValues(reason).Inc()
}

func SetDeviceConnected(connected bool) {
	if connected {
		DeviceConnected.Set(1)
		return
	}
	DeviceConnected.Set(0)
}
