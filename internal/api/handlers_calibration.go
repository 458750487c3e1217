// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/f1/livetiming/internal/calibration"
)

func (s *Server) handleCalibrationSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calibration == nil {
		writeDisabled(w, "calibration")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Calibration.Snapshot())
}

func (s *Server) handleCalibrationPrepare(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calibration == nil {
		writeDisabled(w, "calibration")
		return
	}
	snap, err := s.deps.Calibration.Prepare(r.Context())
	s.writeCalibrationResult(w, snap, err)
}

func (s *Server) handleCalibrationComplete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calibration == nil {
		writeDisabled(w, "calibration")
		return
	}
	snap, err := s.deps.Calibration.Complete(r.Context(), "api")
	s.writeCalibrationResult(w, snap, err)
}

func (s *Server) handleCalibrationCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calibration == nil {
		writeDisabled(w, "calibration")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Calibration.Cancel("api"))
}

// writeCalibrationResult maps the manager's typed errors to HTTP status,
// per §7.6: state-machine violations surface to the caller, never crash.
func (s *Server) writeCalibrationResult(w http.ResponseWriter, snap calibration.Snapshot, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, calibration.ErrBlockedByReplay):
		writeJSON(w, http.StatusConflict, snap)
	case errors.Is(err, calibration.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
