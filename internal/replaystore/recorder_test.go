// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaystore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestampToMs(t *testing.T) {
	ms, err := parseTimestampToMs("00:01:02.345")
	require.NoError(t, err)
	assert.Equal(t, int64(62345), ms)

	_, err = parseTimestampToMs("not-a-timestamp")
	assert.Error(t, err)
}

func newArchiveServer(t *testing.T, streams map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for stream, body := range streams {
		stream, body := stream, body
		mux.HandleFunc(fmt.Sprintf("/2024_1_1/%s.jsonStream", stream), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		})
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestRecorder_Record_MergesAndSortsFrames(t *testing.T) {
	streams := map[string]string{
		"SessionStatus": `00:00:00.000{"Status":"Inactive"}` + "\n" + `00:00:05.000{"Status":"Started"}` + "\n",
		"TrackStatus":   `00:00:01.000{"Status":"1","Message":"AllClear"}` + "\n",
		"TimingData":    `00:00:06.000{"Lines":{}}` + "\n",
	}
	server := newArchiveServer(t, streams)
	defer server.Close()

	cacheDir := t.TempDir()
	rec := NewRecorder(server.Client(), server.URL, cacheDir, WithStreams([]string{"SessionStatus", "TrackStatus", "TimingData"}))

	idx, err := rec.Record(context.Background(), SessionRef{UniqueID: "2024_1_1", Path: "2024_1_1"})
	require.NoError(t, err)

	assert.Equal(t, 4, idx.Index.TotalFrames)
	assert.Equal(t, int64(5000), idx.Index.SessionStartedAtMs)
	assert.Equal(t, int64(6000), idx.Index.DurationMs)

	for i := 1; i < len(idx.Frames); i++ {
		assert.LessOrEqual(t, idx.Frames[i-1].TimestampMs, idx.Frames[i].TimestampMs)
	}

	_, ok := idx.Index.InitialState["TrackStatus"]
	assert.True(t, ok, "TrackStatus frame before session start must be captured")
	_, ok = idx.Index.InitialState["TimingData"]
	assert.True(t, ok, "TimingData's first post-start frame must be captured as fallback")

	assert.FileExists(t, filepath.Join(cacheDir, "2024_1_1", "frames.jsonl"))
	assert.FileExists(t, filepath.Join(cacheDir, "2024_1_1", "index.json"))
	assert.FileExists(t, filepath.Join(cacheDir, "2024_1_1", "frames.db"))
}

func TestRecorder_Record_ReusesValidCache(t *testing.T) {
	streams := map[string]string{
		"SessionStatus": `00:00:00.000{"Status":"Started"}` + "\n",
	}
	server := newArchiveServer(t, streams)
	defer server.Close()

	cacheDir := t.TempDir()
	rec := NewRecorder(server.Client(), server.URL, cacheDir, WithStreams([]string{"SessionStatus"}))

	ref := SessionRef{UniqueID: "2024_1_1", Path: "2024_1_1"}
	first, err := rec.Record(context.Background(), ref)
	require.NoError(t, err)

	server.Close() // prove the second call never re-fetches

	second, err := rec.Record(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, first.Index.TotalFrames, second.Index.TotalFrames)
}

func TestRecorder_Record_TopThreeSpecialCase(t *testing.T) {
	streams := map[string]string{
		"SessionStatus": `00:00:10.000{"Status":"Started"}` + "\n",
		"TopThree": strings.Join([]string{
			`00:00:01.000{"Lines":[{"RacingNumber":"1"},{"RacingNumber":"2"},{"RacingNumber":"3"}]}`,
			`00:00:02.000{"Lines":{"0":{"Gap":"+0.000"}}}`,
		}, "\n") + "\n",
	}
	server := newArchiveServer(t, streams)
	defer server.Close()

	cacheDir := t.TempDir()
	rec := NewRecorder(server.Client(), server.URL, cacheDir, WithStreams([]string{"SessionStatus", "TopThree"}))

	idx, err := rec.Record(context.Background(), SessionRef{UniqueID: "2024_2_2", Path: "2024_2_2"})
	require.NoError(t, err)

	raw, ok := idx.Index.InitialState["TopThree"]
	require.True(t, ok)
	assert.Contains(t, string(raw), `"Gap":"+0.000"`)
}

func TestRecorder_Unload_RemovesCacheDir(t *testing.T) {
	cacheDir := t.TempDir()
	rec := NewRecorder(nil, "http://example.invalid", cacheDir)
	sessionDir := filepath.Join(cacheDir, "2024_9_9")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))

	require.NoError(t, rec.Unload("2024_9_9"))
	_, err := os.Stat(sessionDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRecorder_CleanupStale_RemovesOldDirsOnly(t *testing.T) {
	cacheDir := t.TempDir()
	rec := NewRecorder(nil, "http://example.invalid", cacheDir)

	oldDir := filepath.Join(cacheDir, "old")
	freshDir := filepath.Join(cacheDir, "fresh")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))
	require.NoError(t, os.MkdirAll(freshDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "index.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(freshDir, "index.json"), []byte(`{}`), 0o644))

	oldTime := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(oldDir, "index.json"), oldTime, oldTime))

	removed, err := rec.CleanupStale(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, freshDir)
}
