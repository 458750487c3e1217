// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rootPayload = `{
	"seasonContext": {
		"currentOrNextMeetingKey": 1243,
		"timetables": [
			{"description": "Practice 1", "startTime": "2024-05-24T13:30:00", "endTime": "2024-05-24T14:30:00", "gmtOffset": "+02:00:00", "meetingSessionKey": 1},
			{"description": "Race", "startTime": "2024-05-26T15:00:00", "endTime": "2024-05-26T17:00:00", "gmtOffset": "+02:00:00", "meetingSessionKey": 3}
		]
	},
	"race": {"meetingOfficialName": "Monaco Grand Prix"}
}`

func TestEventTrackerSource_FetchesRootPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rootPayload))
	}))
	defer server.Close()

	src := NewEventTrackerSource(server.Client(), TrackerConfig{
		BaseURL:      server.URL,
		EndpointPath: "/tracker",
		APIKey:       "k",
	})
	result, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, SourceEventTracker, result.Source)
	require.Len(t, result.Windows, 2)
	assert.Equal(t, "Monaco Grand Prix", result.Windows[0].MeetingName)
	assert.Equal(t, 1243, result.Windows[0].MeetingKey)
}

func TestEventTrackerSource_RecoversOn401ByScrapingManifest(t *testing.T) {
	var trackerCalls int32
	manifest := `window.config = {"PUBLIC_GLOBAL_APIGEE_BASEURL":"` + "REPLACED" + `","PUBLIC_GLOBAL_EVENTTRACKER_ENDPOINT":"/v2/tracker","PUBLIC_GLOBAL_EVENTTRACKER_MEETINGENDPOINT":"/v2/meeting/{meeting_key}","PUBLIC_GLOBAL_EVENTTRACKER_APIKEY":"fresh-key"};`

	var tracker *httptest.Server
	tracker = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&trackerCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "fresh-key", r.Header.Get("apiKey"))
		w.Write([]byte(rootPayload))
	}))
	defer tracker.Close()

	manifestServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.ReplaceAll(manifest, "REPLACED", tracker.URL)))
	}))
	defer manifestServer.Close()

	src := NewEventTrackerSource(tracker.Client(), TrackerConfig{
		BaseURL:      tracker.URL,
		EndpointPath: "/tracker",
		APIKey:       "stale-key",
		EnvSourceURL: manifestServer.URL,
	})
	result, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&trackerCalls))
	require.Len(t, result.Windows, 2)
}

func TestEventTrackerSource_CachesWithinTTL(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(rootPayload))
	}))
	defer server.Close()

	src := NewEventTrackerSource(server.Client(), TrackerConfig{BaseURL: server.URL, EndpointPath: "/t"})
	_, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	_, err = src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call within TTL should be served from cache")
}
