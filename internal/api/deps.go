// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the diagnostic/internal HTTP surface named in §6's
// Internal API list: health, availability, session clock, flag state,
// supervisor/schedule status, calibration control, and replay control.
// It is not a public product API (out of scope per spec.md's Non-goals).
package api

import (
	"time"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/clock"
	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/health"
	"github.com/f1/livetiming/internal/replaycontrol"
	"github.com/f1/livetiming/internal/schedule"
	"github.com/f1/livetiming/internal/supervisor"
)

// Deps holds every collaborator the diagnostic surface reads from. Fields
// left nil are reported as "disabled" by the handlers that touch them,
// rather than the server refusing to start — §7.8's "nothing crashes"
// rule applied to the HTTP surface itself.
type Deps struct {
	Config       config.AppConfig
	Supervisor   *supervisor.Supervisor
	Bus          *bus.Bus
	Availability *availability.Tracker
	Clock        *clock.Clock
	FlagState    *flagstate.Machine
	Calibration  *calibration.Manager
	Replay       *replaycontrol.Controller
	ScheduleIndex schedule.Source
	Health       *health.Manager
}

// Server is the diagnostic HTTP surface's handler receiver, grounded on
// the teacher's internal/api.Server shape (deps-holding struct, startTime
// for uptime reporting).
type Server struct {
	deps      Deps
	startTime time.Time
}

// New builds a Server over deps.
func New(deps Deps) *Server {
	return &Server{deps: deps, startTime: time.Now()}
}
