// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_bus_deliveries_total",
		Help: "Total number of events delivered to subscribers by event type and mode",
	}, []string{"event_type", "mode"})

	BusSupersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_bus_superseded_total",
		Help: "Total number of pending debounced events replaced by a newer event under the same key",
	}, []string{"event_type"})

	BusHandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_bus_handler_failures_total",
		Help: "Total number of subscriber handlers that panicked",
	}, []string{"event_type"})

	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_watcher_events_total",
		Help: "Filesystem events observed by the watcher, by classification",
	}, []string{"kind"})
)

// IncBusDelivery records one event delivery ("immediate" or "debounced").
func IncBusDelivery(eventType, mode string) {
	if eventType == "" {
		eventType = "unknown"
	}
	BusDeliveriesTotal.WithLabelValues(eventType, mode).Inc()
}

// IncBusSuperseded records a pending event dropped in favour of a newer one.
func IncBusSuperseded(eventType string) {
	BusSupersededTotal.WithLabelValues(eventType).Inc()
}

// IncBusHandlerFailure records a recovered handler panic.
func IncBusHandlerFailure(eventType string) {
	BusHandlerFailuresTotal.WithLabelValues(eventType).Inc()
}

// IncWatcherEvent records a classified filesystem event
// ("file", "directory", "config", "ignored").
func IncWatcherEvent(kind string) {
	WatcherEventsTotal.WithLabelValues(kind).Inc()
}
