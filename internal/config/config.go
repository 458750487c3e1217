// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the daemon's runtime configuration:
// a YAML file overlaid with environment variables, following the §6
// configuration table of the specification.
package config

import (
	"fmt"
	"time"
)

// OperationMode selects whether the Supervisor is allowed to arm the
// SignalR transport or is pinned to local replay/development data.
type OperationMode string

const (
	ModeLive        OperationMode = "live"
	ModeDevelopment OperationMode = "development"
)

// ReferenceMode selects which event gates a reference-relative timer.
type ReferenceMode string

const (
	ReferenceSession   ReferenceMode = "session"
	ReferenceFormation ReferenceMode = "formation"
)

// RaceWeekStartDay selects the first day of the "race week" window.
type RaceWeekStartDay string

const (
	WeekStartMonday RaceWeekStartDay = "monday"
	WeekStartSunday RaceWeekStartDay = "sunday"
)

// AppConfig is the fully resolved, validated configuration for the daemon.
type AppConfig struct {
	// Ambient
	LogLevel    string `yaml:"log_level"`
	Version     string `yaml:"-"`
	DataDir     string `yaml:"data_dir"`
	CacheDir    string `yaml:"cache_dir"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Domain (spec §6)
	OperationMode        OperationMode    `yaml:"operation_mode"`
	LiveDelaySeconds      int              `yaml:"live_delay_seconds"`
	LiveDelayReference    ReferenceMode    `yaml:"live_delay_reference"`
	ReplayStartReference  ReferenceMode    `yaml:"replay_start_reference"`
	EnableRaceControl     bool             `yaml:"enable_race_control"`
	FastPollSeconds       int              `yaml:"fast_poll_seconds"`
	RaceWeekStartDay      RaceWeekStartDay `yaml:"race_week_start_day"`

	// Secondary schedule source (event-tracker) dynamic config (§4.1)
	EventTracker EventTrackerConfig `yaml:"event_tracker"`

	// Replay cache housekeeping (§4.10.8)
	ReplayCacheMaxAge time.Duration `yaml:"replay_cache_max_age"`
}

// EventTrackerConfig holds the secondary schedule source's scrapeable,
// self-healing connection parameters (§4.1 secondary provider).
type EventTrackerConfig struct {
	BaseURL       string `yaml:"base_url"`
	EndpointPath  string `yaml:"endpoint_path"`
	MeetingPrefix string `yaml:"meeting_prefix"`
	APIKey        string `yaml:"api_key"`
	Locale        string `yaml:"locale"`
}

// Default returns the baseline configuration before file/env overlay.
func Default() AppConfig {
	return AppConfig{
		LogLevel:              "info",
		DataDir:               "/var/lib/f1-livetiming",
		CacheDir:               "/var/lib/f1-livetiming/replay-cache",
		HTTPAddr:              ":8730",
		MetricsAddr:           ":9730",
		OperationMode:         ModeLive,
		LiveDelaySeconds:      0,
		LiveDelayReference:    ReferenceSession,
		ReplayStartReference:  ReferenceSession,
		EnableRaceControl:     true,
		FastPollSeconds:       20,
		RaceWeekStartDay:      WeekStartMonday,
		ReplayCacheMaxAge:     30 * 24 * time.Hour,
		EventTracker: EventTrackerConfig{
			Locale: "en",
		},
	}
}

// Validate enforces the invariants called out in §6: live_delay_seconds in
// [0,300], known operation_mode/reference/week-start enums.
func (c AppConfig) Validate() error {
	if c.LiveDelaySeconds < 0 || c.LiveDelaySeconds > 300 {
		return fmt.Errorf("%w: live_delay_seconds=%d", ErrInvalidConfig, c.LiveDelaySeconds)
	}
	switch c.OperationMode {
	case ModeLive, ModeDevelopment:
	default:
		return fmt.Errorf("%w: operation_mode=%q", ErrInvalidConfig, c.OperationMode)
	}
	switch c.LiveDelayReference {
	case ReferenceSession, ReferenceFormation:
	default:
		return fmt.Errorf("%w: live_delay_reference=%q", ErrInvalidConfig, c.LiveDelayReference)
	}
	switch c.ReplayStartReference {
	case ReferenceSession, ReferenceFormation:
	default:
		return fmt.Errorf("%w: replay_start_reference=%q", ErrInvalidConfig, c.ReplayStartReference)
	}
	switch c.RaceWeekStartDay {
	case WeekStartMonday, WeekStartSunday:
	default:
		return fmt.Errorf("%w: race_week_start_day=%q", ErrInvalidConfig, c.RaceWeekStartDay)
	}
	if c.FastPollSeconds <= 0 {
		return fmt.Errorf("%w: fast_poll_seconds=%d", ErrInvalidConfig, c.FastPollSeconds)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("%w: cache_dir is required", ErrInvalidConfig)
	}
	return nil
}
