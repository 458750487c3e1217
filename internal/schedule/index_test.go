// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/httpcache"
)

func newFetcher(t *testing.T) *httpcache.Fetcher {
	t.Helper()
	dir := t.TempDir()
	store, err := httpcache.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return httpcache.New(store, http.DefaultClient, 0)
}

func TestIndexSource_BuildsWindowsFromMeetings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Meetings": [{
				"Name": "Monaco Grand Prix",
				"Key": 1,
				"Sessions": [
					{"Name": "Practice 1", "Path": "2024/Monaco/Practice1/", "Key": 10, "StartDate": "2024-05-24T11:30:00", "EndDate": "2024-05-24T12:30:00", "GmtOffset": "+02:00:00"},
					{"Name": "Race", "Path": "2024/Monaco/Race/", "Key": 12, "StartDate": "2024-05-26T13:00:00", "EndDate": "2024-05-26T15:00:00", "GmtOffset": "+02:00:00"}
				]
			}]
		}`))
	}))
	defer server.Close()

	src := NewIndexSource(newFetcher(t), server.URL, time.Minute)
	result, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, SourceIndex, result.Source)
	require.Len(t, result.Windows, 2)
	assert.True(t, result.Windows[0].StartUTC.Before(result.Windows[1].StartUTC))
	assert.Equal(t, "Monaco Grand Prix", result.Windows[1].MeetingName)
	assert.Equal(t, "2024/Monaco/Race/", result.Windows[1].Path)
	assert.Equal(t, result.Windows[1].StartUTC.Add(-time.Hour), result.Windows[1].ConnectAt)
}

func TestIndexSource_SynthesizesMissingEndDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Meetings":[{"Name":"Spa","Sessions":[{"Name":"Qualifying","Path":"2024/Spa/Q/","StartDate":"2024-07-27T15:00:00Z"}]}]}`))
	}))
	defer server.Close()

	src := NewIndexSource(newFetcher(t), server.URL, time.Minute)
	result, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err)
	require.Len(t, result.Windows, 1)
	assert.Equal(t, 2*time.Hour, result.Windows[0].EndUTC.Sub(result.Windows[0].StartUTC))
}

func TestIndexSource_HTTPErrorSurfacesAsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	src := NewIndexSource(newFetcher(t), server.URL, time.Minute)
	result, err := src.FetchWindows(context.Background(), time.Hour, 15*time.Minute, false)
	require.NoError(t, err, "FetchWindows reports failure via Result, not an error")
	assert.Empty(t, result.Windows)
	assert.NotEmpty(t, result.LastError)
}
