// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/f1/livetiming/internal/log"
	"github.com/rs/zerolog"
)

// overlayEnv applies F1LT_-prefixed environment variables on top of a
// YAML-loaded config, the same two-stage precedence the teacher's
// internal/config/env.go establishes (file, then environment).
func overlayEnv(c AppConfig) AppConfig {
	logger := log.WithComponent("config")

	c.LogLevel = parseString(logger, "F1LT_LOG_LEVEL", c.LogLevel)
	c.DataDir = parseString(logger, "F1LT_DATA_DIR", c.DataDir)
	c.CacheDir = parseString(logger, "F1LT_CACHE_DIR", c.CacheDir)
	c.HTTPAddr = parseString(logger, "F1LT_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = parseString(logger, "F1LT_METRICS_ADDR", c.MetricsAddr)

	if v := parseString(logger, "F1LT_OPERATION_MODE", string(c.OperationMode)); v != "" {
		c.OperationMode = OperationMode(v)
	}
	c.LiveDelaySeconds = parseInt(logger, "F1LT_LIVE_DELAY_SECONDS", c.LiveDelaySeconds)
	if v := parseString(logger, "F1LT_LIVE_DELAY_REFERENCE", string(c.LiveDelayReference)); v != "" {
		c.LiveDelayReference = ReferenceMode(v)
	}
	if v := parseString(logger, "F1LT_REPLAY_START_REFERENCE", string(c.ReplayStartReference)); v != "" {
		c.ReplayStartReference = ReferenceMode(v)
	}
	c.EnableRaceControl = parseBool(logger, "F1LT_ENABLE_RACE_CONTROL", c.EnableRaceControl)
	c.FastPollSeconds = parseInt(logger, "F1LT_FAST_POLL_SECONDS", c.FastPollSeconds)
	if v := parseString(logger, "F1LT_RACE_WEEK_START_DAY", string(c.RaceWeekStartDay)); v != "" {
		c.RaceWeekStartDay = RaceWeekStartDay(v)
	}

	c.EventTracker.BaseURL = parseString(logger, "F1LT_EVENT_TRACKER_BASE_URL", c.EventTracker.BaseURL)
	c.EventTracker.EndpointPath = parseString(logger, "F1LT_EVENT_TRACKER_ENDPOINT_PATH", c.EventTracker.EndpointPath)
	c.EventTracker.MeetingPrefix = parseString(logger, "F1LT_EVENT_TRACKER_MEETING_PREFIX", c.EventTracker.MeetingPrefix)
	c.EventTracker.APIKey = parseString(logger, "F1LT_EVENT_TRACKER_API_KEY", c.EventTracker.APIKey)
	c.EventTracker.Locale = parseString(logger, "F1LT_EVENT_TRACKER_LOCALE", c.EventTracker.Locale)

	return c
}

func parseString(logger zerolog.Logger, key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "key") || strings.Contains(lowerKey, "token") {
			logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
		} else {
			logger.Debug().Str("key", key).Str("value", value).Msg("using environment variable")
		}
		if value != "" {
			return value
		}
	}
	return defaultValue
}

func parseInt(logger zerolog.Logger, key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logger.Warn().Str("key", key).Str("value", value).Msg("ignoring unparsable integer env var")
	}
	return defaultValue
}

func parseBool(logger zerolog.Logger, key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		logger.Warn().Str("key", key).Str("value", value).Msg("ignoring unparsable bool env var")
	}
	return defaultValue
}
