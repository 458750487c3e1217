// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package replaycontrol implements the ReplayController named in §6's
// Internal API list: it coordinates the Replay Recorder/Indexer (C11) and
// the Replay Transport (C5) against the shared Live Bus (C3) and
// LiveAvailability register (C12), so that a diagnostic caller can
// prepare, play, pause, resume, and stop a recorded session without the
// Live Supervisor (C2) being involved.
package replaycontrol

import "time"

// State is the controller's own small state machine: Idle -> Ready (after
// PrepareAndLoadSession) -> Playing <-> Paused -> Idle (on Stop or natural
// completion).
type State string

const (
	StateIdle    State = "idle"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Status is the controller's API-facing snapshot (§6's get_playback_status).
type Status struct {
	State            State
	UniqueID         string
	PositionMs       int64
	SessionStartMs   int64
	DurationMs       int64
	ElapsedS         float64
}

// Listener receives every committed Status change.
type Listener func(Status)

const playbackPollInterval = 250 * time.Millisecond
