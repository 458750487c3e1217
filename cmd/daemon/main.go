// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/f1/livetiming/internal/api"
	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/formation"
	"github.com/f1/livetiming/internal/health"
	"github.com/f1/livetiming/internal/httpcache"
	xglog "github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/replaycontrol"
	"github.com/f1/livetiming/internal/replaystore"
	"github.com/f1/livetiming/internal/schedule"
	"github.com/f1/livetiming/internal/supervisor"
	"github.com/f1/livetiming/internal/transport/signalr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const (
	staticBase     = "https://livetiming.formula1.com/static"
	seasonIndexURLFormat = staticBase + "/%d/Index.json"
	envManifestURL = "https://www.formula1.com/en/f1-live.html"

	seasonIndexTTL = 15 * time.Minute
	httpCacheRate  = 5.0
)

// liveStreams is the set of SignalR feed streams subscribed on connect
// (§3's stream catalogue).
var liveStreams = []string{
	"SessionInfo", "SessionStatus", "SessionData", "TrackStatus",
	"RaceControlMessages", "TopThree", "TimingData", "DriverList",
	"ExtrapolatedClock", "CarData.z", "PositionData.z",
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "f1-livetiming", Version: version})
	logger := xglog.WithComponent("daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "f1-livetiming", Version: version})
	logger = xglog.WithComponent("daemon")

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).Msg("startup checks failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := httpcache.Open(cfg.CacheDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open http cache store")
	}
	defer func() { _ = store.Close() }()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	fetcher := httpcache.New(store, httpClient, httpCacheRate)

	seasonIndexURL := fmt.Sprintf(seasonIndexURLFormat, time.Now().UTC().Year())
	indexSource := schedule.NewIndexSource(fetcher, seasonIndexURL, seasonIndexTTL)
	eventTracker := schedule.NewEventTrackerSource(httpClient, schedule.TrackerConfig{
		BaseURL:       cfg.EventTracker.BaseURL,
		EndpointPath:  cfg.EventTracker.EndpointPath,
		MeetingPrefix: cfg.EventTracker.MeetingPrefix,
		APIKey:        cfg.EventTracker.APIKey,
		Locale:        cfg.EventTracker.Locale,
		EnvSourceURL:  envManifestURL,
	})

	liveBus := bus.New()
	tracker := availability.New()

	transportFactory := bus.TransportFactory(func() (bus.Transport, error) {
		return signalr.New(httpClient, liveStreams), nil
	})
	if cfg.OperationMode != config.ModeLive {
		transportFactory = nil
		logger.Warn().Msg("operation_mode is not \"live\": Supervisor will never arm a SignalR transport")
	}

	referenceStore, err := config.NewReferenceStore(cfg.DataDir, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open reference store")
	}
	defer func() { _ = referenceStore.Close() }()

	sup := supervisor.New(indexSource, liveBus, transportFactory, tracker, staticBase,
		supervisor.WithFallbackSource(eventTracker),
		supervisor.WithActiveRefresh(time.Duration(cfg.FastPollSeconds)*time.Second),
	)

	flagState := flagstate.New()
	formationTracker := formation.New(httpClient, staticBase)
	defer formationTracker.Close()

	pipeline := newSessionPipeline(liveBus, flagState, formationTracker, nil)
	calibrationMgr := calibration.New(&clockDelaySetter{pipeline: pipeline}, referenceStore)
	pipeline.calibration = calibrationMgr
	defer calibrationMgr.Close()

	recorder := replaystore.NewRecorder(httpClient, staticBase, cfg.CacheDir)
	if removed, err := recorder.CleanupStale(cfg.ReplayCacheMaxAge); err != nil {
		logger.Warn().Err(err).Msg("replay cache cleanup failed")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Msg("replay cache cleanup removed stale sessions")
	}
	formationMs := func(uniqueID string) (int64, bool) {
		snap := formationTracker.Snapshot()
		if snap.SessionID != uniqueID || snap.FormationStartUTC == nil {
			return 0, false
		}
		return snap.FormationStartUTC.UnixMilli(), true
	}
	replayCtl := replaycontrol.New(recorder, liveBus, tracker, referenceStore, formationMs)

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewBusHeartbeatChecker(liveBus.LastHeartbeatAge, 90*time.Second))
	healthMgr.RegisterChecker(health.NewScheduleSourceChecker(func() string {
		return sup.Snapshot().LastScheduleError
	}))

	server := api.New(api.Deps{
		Config:        cfg,
		Supervisor:    sup,
		Bus:           liveBus,
		Availability:  tracker,
		Clock:         pipeline.currentClock(),
		FlagState:     flagState,
		Calibration:   calibrationMgr,
		Replay:        replayCtl,
		ScheduleIndex: indexSource,
		Health:        healthMgr,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting diagnostic HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server exited with error")
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server exited with error")
		}
	}()

	go liveBus.Run(ctx)
	go sup.Run(ctx)
	go pipeline.run(ctx)

	logger.Info().Str("version", version).Str("mode", string(cfg.OperationMode)).Msg("daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	liveBus.Stop()

	logger.Info().Msg("daemon stopped")
}
