// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apimw "github.com/f1/livetiming/internal/api/middleware"
)

// Router builds the chi router for the diagnostic HTTP surface, applying
// the teacher's canonical middleware stack (§6's "internal API" note:
// request ID, recover, CORS, logging, local rate limiting).
func (s *Server) Router() http.Handler {
	r := apimw.NewRouter(apimw.StackConfig{
		EnableCORS:            true,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		EnableRateLimit:       true,
		RateLimitEnabled:      true,
		RateLimitGlobalRPS:    20,
		RateLimitBurst:        40,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/availability", s.handleAvailability)
	r.Get("/clock", s.handleClock)
	r.Get("/flagstate", s.handleFlagState)
	r.Get("/supervisor", s.handleSupervisor)
	r.Get("/bus", s.handleBusHealth)
	r.Get("/raceweek", s.handleRaceWeek)
	r.Get("/diagnostics", s.handleDiagnostics)

	r.Route("/calibration", func(cr chi.Router) {
		cr.Get("/", s.handleCalibrationSnapshot)
		cr.Post("/prepare", s.handleCalibrationPrepare)
		cr.Post("/complete", s.handleCalibrationComplete)
		cr.Post("/cancel", s.handleCalibrationCancel)
	})

	r.Route("/replay", func(rr chi.Router) {
		rr.Get("/", s.handleReplayStatus)
		rr.Post("/load", s.handleReplayLoad)
		rr.Post("/play", s.handleReplayPlay)
		rr.Post("/pause", s.handleReplayPause)
		rr.Post("/resume", s.handleReplayResume)
		rr.Post("/stop", s.handleReplayStop)
	})

	return r
}
