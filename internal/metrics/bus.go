// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the daemon's Prometheus instrumentation, one
// small file per concern, following the teacher's internal/metrics layout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1lt_bus_messages_total",
		Help: "Total number of transport events delivered by the Live Bus, by stream",
	}, []string{"stream"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1lt_bus_dropped_total",
		Help: "Total number of Live Bus subscriber deliveries dropped, by stream and reason",
	}, []string{"stream", "reason"})

	BusReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_bus_reconnects_total",
		Help: "Total number of Live Bus transport (re)connection attempts",
	})

	BusBackoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_bus_backoff_seconds",
		Help: "Current Live Bus reconnect back-off delay in seconds",
	})

	BusHeartbeatAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_bus_heartbeat_age_seconds",
		Help: "Seconds since the Live Bus last recorded a heartbeat",
	})
)

// IncBusDropped records a dropped delivery for the given stream and reason.
func IncBusDropped(stream, reason string) {
	if stream == "" {
		stream = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(stream, reason).Inc()
}
