// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor implements the Live Supervisor (C2): it selects a
// SessionWindow from the Schedule Source (C1), arms the Live Bus (C3) for
// its connect/disconnect span, and disarms it again, per §4.2.
package supervisor

import (
	"time"

	"github.com/f1/livetiming/internal/schedule"
)

// State is one node of the Idle → Waiting → Armed → Closed → Idle machine.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateArmed   State = "armed"
	StateClosed  State = "closed"
)

// Event drives a transition in the state machine.
type Event string

const (
	eventWindowPending  Event = "window_pending"
	eventNoWindow       Event = "no_window"
	eventConnectReached Event = "connect_reached"
	eventWindowClosed   Event = "window_closed"
	eventReset          Event = "reset"
)

const (
	defaultPreWindow  = 60 * time.Minute
	defaultPostWindow = 15 * time.Minute

	idleRefresh   = 15 * time.Minute
	activeRefresh = 20 * time.Second

	heartbeatDrain = 60 * time.Second

	postWindowExtensionCap  = 30 * time.Minute
	postWindowExtensionStep = 5 * time.Minute

	fallbackWindowDuration = 20 * time.Minute

	primaryRecoveryCheckInterval = time.Minute

	primarySourceRecovered = "primary-source-recovered"
)

// liveActivityStreams mirrors the original's activity-age probe set used to
// decide whether the disconnect window should be extended.
var liveActivityStreams = []string{
	"SessionStatus",
	"SessionInfo",
	"RaceControlMessages",
	"TrackStatus",
	"TimingData",
	"TimingAppData",
	"DriverList",
	"LapCount",
	"WeatherData",
}

var sessionEndStates = map[string]bool{
	"Finished":  true,
	"Finalised": true,
	"Ends":      true,
}

var sessionRunningStates = map[string]bool{
	"Started": true,
	"Resumed": true,
}

// Snapshot is the Supervisor's read-only status, exposed to the diagnostics
// aggregate (supplemented feature) and tests.
type Snapshot struct {
	State            State
	Window           *schedule.SessionWindow
	WindowSource     string
	ScheduleSource   string
	FallbackActive   bool
	IndexHTTPStatus  int
	LastScheduleError string
}

// Listener receives a Snapshot on every state change.
type Listener func(Snapshot)
