// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/clock"
	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/replaycontrol"
	"github.com/f1/livetiming/internal/replaystore"
)

type fixedReference struct{}

func (fixedReference) LiveDelayReference() config.ReferenceMode   { return config.ReferenceSession }
func (fixedReference) ReplayStartReference() config.ReferenceMode { return config.ReferenceSession }

type noopDelaySetter struct{}

func (noopDelaySetter) SetDelay(seconds int, source string) error { return nil }

func newCalibrationTestServer(t *testing.T) (*Server, *calibration.Manager) {
	t.Helper()
	cal := calibration.New(noopDelaySetter{}, fixedReference{})
	t.Cleanup(cal.Close)

	s := New(Deps{
		Config:       config.Default(),
		Bus:          bus.New(),
		Availability: availability.New(),
		Clock:        clock.New(clock.SessionRace, nil, 0),
		FlagState:    flagstate.New(),
		Calibration:  cal,
	})
	return s, cal
}

func TestHandleCalibrationSnapshot_ReturnsIdleByDefault(t *testing.T) {
	s, _ := newCalibrationTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/calibration/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap calibration.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, calibration.ModeIdle, snap.Mode)
}

func TestHandleCalibrationPrepare_TransitionsToWaiting(t *testing.T) {
	s, _ := newCalibrationTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/calibration/prepare", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap calibration.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, calibration.ModeWaiting, snap.Mode)
}

func TestHandleCalibrationComplete_ConflictsWhenNotRunning(t *testing.T) {
	s, _ := newCalibrationTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/calibration/complete", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCalibrationCancel_ReturnsIdleSnapshot(t *testing.T) {
	s, cal := newCalibrationTestServer(t)
	_, err := cal.Prepare(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/calibration/cancel", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap calibration.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, calibration.ModeIdle, snap.Mode)
}

func newReplayTestServer(t *testing.T) *Server {
	t.Helper()
	recorder := replaystore.NewRecorder(&http.Client{Timeout: time.Second}, "https://example.invalid/static", t.TempDir())
	tracker := availability.New()
	ctl := replaycontrol.New(recorder, bus.New(), tracker, fixedReference{}, nil)

	return New(Deps{
		Config:       config.Default(),
		Bus:          bus.New(),
		Availability: tracker,
		Clock:        clock.New(clock.SessionRace, nil, 0),
		FlagState:    flagstate.New(),
		Replay:       ctl,
	})
}

func TestHandleReplayStatus_ReturnsIdleSnapshot(t *testing.T) {
	s := newReplayTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/replay/", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap replaycontrol.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, replaycontrol.StateIdle, snap.State)
}

func TestHandleReplayPlay_ConflictsWhenSessionNotLoaded(t *testing.T) {
	s := newReplayTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/replay/play", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleReplayLoad_RejectsMissingFields(t *testing.T) {
	s := newReplayTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/replay/load", strings.NewReader(`{"unique_id":"","path":""}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
