// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.ServeHealth(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime_s":     int64(time.Since(s.startTime).Seconds()),
		"operation_mode": s.deps.Config.OperationMode,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeDisabled(w, "health")
		return
	}
	s.deps.Health.ServeReady(w, r)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if s.deps.Availability == nil {
		writeDisabled(w, "availability")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Availability.Snapshot())
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	if s.deps.Clock == nil {
		writeDisabled(w, "clock")
		return
	}
	qualifyingPart := 0
	if raw := r.URL.Query().Get("qualifying_part"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			qualifyingPart = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Clock.Compute(qualifyingPart))
}

func (s *Server) handleFlagState(w http.ResponseWriter, r *http.Request) {
	if s.deps.FlagState == nil {
		writeDisabled(w, "flagstate")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.FlagState.Snapshot())
}

func (s *Server) handleSupervisor(w http.ResponseWriter, r *http.Request) {
	if s.deps.Supervisor == nil {
		writeDisabled(w, "supervisor")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Supervisor.Snapshot())
}

func (s *Server) handleBusHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeDisabled(w, "bus")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"heartbeat_age_s": s.deps.Bus.LastHeartbeatAge().Seconds(),
		"activity_age_s":  s.deps.Bus.LastStreamActivityAge().Seconds(),
	})
}
