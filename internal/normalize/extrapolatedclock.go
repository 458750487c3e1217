// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type rawExtrapolatedClock struct {
	Utc           string `json:"Utc"`
	Remaining     string `json:"Remaining"`
	Extrapolating bool   `json:"Extrapolating"`
}

// ExtrapolatedClockAnchor is the canonical form of an ExtrapolatedClock
// event: the official remaining-time anchor the Session Clock (C10)
// extrapolates from between frames (§4.7 step 2).
type ExtrapolatedClockAnchor struct {
	UTC           time.Time
	Remaining     time.Duration
	Extrapolating bool
}

// ParseExtrapolatedClock decodes one ExtrapolatedClock frame. Remaining
// arrives as an "HH:MM:SS" countdown string, not a duration literal.
func ParseExtrapolatedClock(payload json.RawMessage) (ExtrapolatedClockAnchor, error) {
	var raw rawExtrapolatedClock
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ExtrapolatedClockAnchor{}, err
	}
	remaining, err := parseRemaining(raw.Remaining)
	if err != nil {
		return ExtrapolatedClockAnchor{}, err
	}
	return ExtrapolatedClockAnchor{
		UTC:           parseUTC(raw.Utc, time.Time{}),
		Remaining:     remaining,
		Extrapolating: raw.Extrapolating,
	}, nil
}

// parseRemaining turns "HH:MM:SS" (optionally "H:MM:SS.fff") into a
// duration.
func parseRemaining(value string) (time.Duration, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("normalize: malformed Remaining %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("normalize: malformed Remaining hours %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("normalize: malformed Remaining minutes %q", value)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("normalize: malformed Remaining seconds %q", value)
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds*float64(time.Second))
	return total, nil
}
