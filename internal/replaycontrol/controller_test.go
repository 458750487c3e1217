// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaycontrol

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/replaystore"
)

func newArchiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	streams := map[string]string{
		"SessionStatus": `00:00:00.000{"Status":"Inactive"}` + "\n" + `00:00:01.000{"Status":"Started"}` + "\n",
		"TrackStatus":   `00:00:00.500{"Status":"1","Message":"AllClear"}` + "\n",
	}
	for stream, body := range streams {
		body := body
		mux.HandleFunc(fmt.Sprintf("/2024_9_1/%s.jsonStream", stream), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		})
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	return httptest.NewServer(mux)
}

func newTestController(t *testing.T) (*Controller, *availability.Tracker) {
	t.Helper()
	server := newArchiveServer(t)
	t.Cleanup(server.Close)

	rec := replaystore.NewRecorder(server.Client(), server.URL, t.TempDir(),
		replaystore.WithStreams([]string{"SessionStatus", "TrackStatus"}))
	tracker := availability.New()
	liveBus := bus.New()
	return New(rec, liveBus, tracker, nil, nil), tracker
}

func TestController_PrepareAndLoadSession_EntersReady(t *testing.T) {
	c, _ := newTestController(t)
	err := c.PrepareAndLoadSession(context.Background(), replaystore.SessionRef{UniqueID: "2024_9_1", Path: "2024_9_1"})
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.Snapshot().State)
}

func TestController_Play_RequiresReadyState(t *testing.T) {
	c, _ := newTestController(t)
	err := c.Play(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestController_PlayPauseResumeStop(t *testing.T) {
	c, tracker := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.PrepareAndLoadSession(ctx, replaystore.SessionRef{UniqueID: "2024_9_1", Path: "2024_9_1"}))

	require.NoError(t, c.Play(ctx))
	assert.Equal(t, StatePlaying, c.Snapshot().State)
	assert.True(t, tracker.Snapshot().IsLive)
	assert.Equal(t, "replay", tracker.Snapshot().Reason)

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.Snapshot().State)
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)

	require.NoError(t, c.Resume())
	assert.Equal(t, StatePlaying, c.Snapshot().State)
	assert.ErrorIs(t, c.Resume(), ErrNotPaused)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateIdle, c.Snapshot().State)
	assert.False(t, tracker.Snapshot().IsLive)
	assert.Equal(t, "replay-stopped", tracker.Snapshot().Reason)
}

func TestController_Subscribe_InvokesImmediately(t *testing.T) {
	c, _ := newTestController(t)
	var got Status
	c.Subscribe(func(s Status) { got = s })
	assert.Equal(t, StateIdle, got.State)
}

func TestController_Play_RestoresOriginalFactoryOnStop(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.PrepareAndLoadSession(ctx, replaystore.SessionRef{UniqueID: "2024_9_1", Path: "2024_9_1"}))

	originalCalled := false
	liveBus := bus.New()
	c.liveBus = liveBus
	liveBus.SwapTransport(func() (bus.Transport, error) {
		originalCalled = true
		return nil, nil
	})

	require.NoError(t, c.Play(ctx))
	require.NoError(t, c.Stop(ctx))

	factory := liveBus.CurrentFactory()
	require.NotNil(t, factory)
	_, _ = factory()
	assert.True(t, originalCalled, "stopping replay must restore the pre-replay transport factory")
}
