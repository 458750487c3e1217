// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduleSourceActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "f1lt_schedule_source_active",
		Help: "Which schedule source is active (1=active, 0=inactive) by source name",
	}, []string{"source"})

	ScheduleFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1lt_schedule_fetch_total",
		Help: "Total schedule fetch attempts by source and outcome",
	}, []string{"source", "outcome"})

	SupervisorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "f1lt_supervisor_state",
		Help: "Current Live Supervisor state as an ordinal (idle=0,waiting=1,armed=2,closed=3)",
	})
)

// SetScheduleSource marks source as the active schedule source and every
// other known source as inactive.
func SetScheduleSource(active string, known ...string) {
	for _, s := range known {
		v := 0.0
		if s == active {
			v = 1.0
		}
		ScheduleSourceActive.WithLabelValues(s).Set(v)
	}
}
