// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/clock"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/replaycontrol"
	"github.com/f1/livetiming/internal/supervisor"
)

// diagnosticsSnapshot is the supplemented "diagnostics.py" aggregate
// (SPEC_FULL.md's supplemented-features section): a single read-only dump
// combining every component's snapshot, for support/bug-report use.
type diagnosticsSnapshot struct {
	UptimeS         int64                    `json:"uptime_s"`
	OperationMode   string                   `json:"operation_mode"`
	Supervisor      *supervisor.Snapshot     `json:"supervisor,omitempty"`
	Availability    *availability.Snapshot   `json:"availability,omitempty"`
	Clock           *clock.Snapshot          `json:"clock,omitempty"`
	FlagState       *flagstate.State         `json:"flag_state,omitempty"`
	Calibration     *calibration.Snapshot    `json:"calibration,omitempty"`
	Replay          *replaycontrol.Status    `json:"replay,omitempty"`
	BusHeartbeatAgeS *float64                `json:"bus_heartbeat_age_s,omitempty"`
	BusActivityAgeS  *float64                `json:"bus_activity_age_s,omitempty"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	snap := diagnosticsSnapshot{
		UptimeS:       int64(time.Since(s.startTime).Seconds()),
		OperationMode: string(s.deps.Config.OperationMode),
	}

	if s.deps.Supervisor != nil {
		v := s.deps.Supervisor.Snapshot()
		snap.Supervisor = &v
	}
	if s.deps.Availability != nil {
		v := s.deps.Availability.Snapshot()
		snap.Availability = &v
	}
	if s.deps.Clock != nil {
		v := s.deps.Clock.Compute(0)
		snap.Clock = &v
	}
	if s.deps.FlagState != nil {
		v := s.deps.FlagState.Snapshot()
		snap.FlagState = &v
	}
	if s.deps.Calibration != nil {
		v := s.deps.Calibration.Snapshot()
		snap.Calibration = &v
	}
	if s.deps.Replay != nil {
		v := s.deps.Replay.Snapshot()
		snap.Replay = &v
	}
	if s.deps.Bus != nil {
		hb := s.deps.Bus.LastHeartbeatAge().Seconds()
		activity := s.deps.Bus.LastStreamActivityAge().Seconds()
		snap.BusHeartbeatAgeS = &hb
		snap.BusActivityAgeS = &activity
	}

	writeJSON(w, http.StatusOK, snap)
}
