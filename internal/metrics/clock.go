// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClockRemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_clock_remaining_seconds",
		Help: "Session clock remaining seconds from the last snapshot",
	})

	ClockSourceQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "f1lt_clock_source_quality",
		Help: "Session clock source quality (1=active) by quality label",
	}, []string{"quality"})

	FlagDerivedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "f1lt_flag_derived_state",
		Help: "Derived flag/safety-car state (1=active) by state label",
	}, []string{"state"})
)

// SetClockSourceQuality marks quality as active and every other known
// quality label as inactive.
func SetClockSourceQuality(quality string, known ...string) {
	for _, q := range known {
		v := 0.0
		if q == quality {
			v = 1.0
		}
		ClockSourceQuality.WithLabelValues(q).Set(v)
	}
}

// SetFlagDerivedState marks state as active and every other known state as
// inactive, so a single Prometheus query reads "the current flag".
func SetFlagDerivedState(state string, known ...string) {
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1.0
		}
		FlagDerivedState.WithLabelValues(s).Set(v)
	}
}
