// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReplayFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_replay_frames_total",
		Help: "Total number of replay frames recorded across all sessions",
	})

	ReplayPositionMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_replay_position_ms",
		Help: "Current replay playback position in milliseconds",
	})

	ReplayCacheCleanupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_replay_cache_cleanup_total",
		Help: "Total number of stale replay cache directories removed",
	})

	CalibrationState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "f1lt_calibration_state",
		Help: "Live-delay calibration state machine state (1=active) by state label",
	}, []string{"state"})

	FormationProbeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "f1lt_formation_probe_state",
		Help: "Formation-start probe state (1=active) by state label",
	}, []string{"state"})

	AvailabilityIsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_availability_is_live",
		Help: "LiveAvailability.is_live (1=live, 0=idle)",
	})
)

// SetCalibrationState marks state as active and every other known state as
// inactive.
func SetCalibrationState(state string, known ...string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1.0
		}
		CalibrationState.WithLabelValues(s).Set(v)
	}
}

// SetFormationProbeState marks state as active and every other known state
// as inactive.
func SetFormationProbeState(state string, known ...string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1.0
		}
		FormationProbeState.WithLabelValues(s).Set(v)
	}
}

// SetAvailabilityState records the current LiveAvailability.is_live value.
func SetAvailabilityState(isLive bool) {
	v := 0.0
	if isLive {
		v = 1.0
	}
	AvailabilityIsLive.Set(v)
}
