// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package formation implements the Formation-Start Probe (C9): it scans
// the CarData archive around a Race/Sprint session's scheduled start to
// find the formation-lap start marker, per §4.8.
package formation

import "time"

// Status is the probe's lifecycle state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusNotApplicable Status = "not_applicable"
	StatusPending       Status = "pending"
	StatusReady         Status = "ready"
	StatusLive          Status = "live"
	StatusUnavailable   Status = "unavailable"
)

var allStatuses = []string{
	string(StatusIdle), string(StatusNotApplicable), string(StatusPending),
	string(StatusReady), string(StatusLive), string(StatusUnavailable),
}

const (
	// searchWindow is the ±90s acceptance window around scheduled start.
	searchWindow = 90 * time.Second
	// preWindow is how long before scheduled start the first attempt fires.
	preWindow = 60 * time.Second
	// retryDelay separates attempts.
	retryDelay = 20 * time.Second
	// maxAttempts bounds the probe.
	maxAttempts = 3
	// probeTimeout bounds a single archive fetch attempt.
	probeTimeout = 20 * time.Second
)

// Snapshot is the probe's immutable, API-facing state (§6).
type Snapshot struct {
	Status            Status
	SessionID         string
	SessionType       string
	SessionName       string
	Path              string
	ScheduledStartUTC *time.Time
	FormationStartUTC *time.Time
	DeltaSeconds      *float64
	Source            string
	Error             string
}

// Listener receives every committed snapshot change.
type Listener func(Snapshot)
