// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/f1/livetiming/internal/schedule"
)

// handleRaceWeek serves the race-week supplemented feature (§8 scenario
// 1): a short-TTL fetch of the season index, reduced to is_on/
// days_until_next_race via schedule.ComputeRaceWeek.
func (s *Server) handleRaceWeek(w http.ResponseWriter, r *http.Request) {
	if s.deps.ScheduleIndex == nil {
		writeDisabled(w, "schedule")
		return
	}
	result, err := s.deps.ScheduleIndex.FetchWindows(r.Context(), 60*time.Minute, 15*time.Minute, false)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	status := schedule.ComputeRaceWeek(result.Windows, time.Now(), s.deps.Config.RaceWeekStartDay)
	writeJSON(w, http.StatusOK, status)
}
