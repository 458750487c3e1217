// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/f1/livetiming/internal/replaycontrol"
	"github.com/f1/livetiming/internal/replaystore"
)

func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

type loadSessionRequest struct {
	UniqueID string `json:"unique_id"`
	Path     string `json:"path"`
}

func (s *Server) handleReplayLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	var req loadSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UniqueID == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("unique_id and path are required"))
		return
	}
	if err := s.deps.Replay.PrepareAndLoadSession(r.Context(), replaystore.SessionRef{UniqueID: req.UniqueID, Path: req.Path}); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

func (s *Server) handleReplayPlay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	if err := s.deps.Replay.Play(r.Context()); err != nil {
		s.writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

func (s *Server) handleReplayPause(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	if err := s.deps.Replay.Pause(); err != nil {
		s.writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

func (s *Server) handleReplayResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	if err := s.deps.Replay.Resume(); err != nil {
		s.writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

func (s *Server) handleReplayStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replay == nil {
		writeDisabled(w, "replay")
		return
	}
	if err := s.deps.Replay.Stop(r.Context()); err != nil {
		s.writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Replay.Snapshot())
}

func (s *Server) writeReplayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replaycontrol.ErrNotReady),
		errors.Is(err, replaycontrol.ErrNotPlaying),
		errors.Is(err, replaycontrol.ErrNotPaused):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
