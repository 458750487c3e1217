// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule implements the Schedule Source (C1): two interchangeable
// providers that produce ordered SessionWindows for the Supervisor to pick
// from, per §4.1.
package schedule

import (
	"context"
	"time"
)

// SessionWindow is one candidate arming opportunity.
type SessionWindow struct {
	MeetingName  string
	SessionName  string
	Path         string
	MeetingKey   int
	SessionKey   int
	StartUTC     time.Time
	EndUTC       time.Time
	ConnectAt    time.Time
	DisconnectAt time.Time
}

// Label matches the original's dashboard-friendly "Meeting – Session" text.
func (w SessionWindow) Label() string {
	switch {
	case w.MeetingName == "":
		return w.SessionName
	case w.SessionName == "":
		return w.MeetingName
	default:
		return w.MeetingName + " – " + w.SessionName
	}
}

// Result is fetch_windows's return value (§4.1).
type Result struct {
	Windows    []SessionWindow
	Source     string
	HTTPStatus int
	LastError  string
}

// Source implements fetch_windows(pre, post, active) for one provider.
type Source interface {
	FetchWindows(ctx context.Context, pre, post time.Duration, active bool) (Result, error)
}

const (
	// SourceIndex names the primary provider.
	SourceIndex = "index"
	// SourceEventTracker names the secondary provider.
	SourceEventTracker = "event_tracker"
	// SourceNone marks a fail-closed resolution with no usable provider.
	SourceNone = "none"
)
