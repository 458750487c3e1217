// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package replaystore implements the Replay Recorder/Indexer (C11): it
// fetches a session's archive streams, merges them into one timestamp-
// ordered frame sequence, and persists both a crash-safe SQLite working
// store and the logical frames.jsonl/index.json export pair consumed by
// the Replay Transport (C5).
package replaystore

import (
	"encoding/json"
	"time"
)

// CacheVersion is bumped whenever the on-disk index/frame format changes
// in a way that invalidates previously recorded sessions.
const CacheVersion = 1

// Frame is one recorded archive line, timestamped relative to the start
// of its source file.
type Frame struct {
	Stream      string          `json:"stream"`
	TimestampMs int64           `json:"timestamp_ms"`
	Payload     json.RawMessage `json:"payload"`
}

// Index is the persisted index.json: the recording's metadata plus the
// per-stream snapshot needed to prime a fresh subscriber at playback
// start (§4.10 step 5).
type Index struct {
	CacheVersion       int                        `json:"cache_version"`
	TotalFrames        int                        `json:"total_frames"`
	DurationMs         int64                      `json:"duration_ms"`
	SessionStartedAtMs int64                      `json:"session_started_at_ms"`
	InitialState       map[string]json.RawMessage `json:"initial_state"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// Stale reports whether an on-disk index can no longer be reused as-is.
func (idx Index) Stale() bool { return idx.CacheVersion != CacheVersion }

// ReplayIndex is the in-memory handle the Replay Transport plays back
// from: the index metadata plus the full ordered frame sequence.
type ReplayIndex struct {
	Index  Index
	Frames []Frame
}

// DurationMs is the timestamp of the last frame, or 0 if empty.
func (r *ReplayIndex) DurationMs() int64 {
	if len(r.Frames) == 0 {
		return 0
	}
	return r.Frames[len(r.Frames)-1].TimestampMs
}
