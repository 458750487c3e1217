// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package normalize implements the Normalizer/Merger (C6): it maps raw
// per-stream payloads from the five hot streams into the canonical event
// vocabulary and exposes a read-only MergedState for downstream
// consumers (Flag/SC, Session Clock, and external projections).
package normalize

import "time"

// StreamID is the closed set of stream names the Live Bus fans out.
type StreamID string

const (
	StreamRaceControlMessages StreamID = "RaceControlMessages"
	StreamTrackStatus         StreamID = "TrackStatus"
	StreamSessionStatus       StreamID = "SessionStatus"
	StreamSessionInfo         StreamID = "SessionInfo"
	StreamSessionData         StreamID = "SessionData"
	StreamTimingData          StreamID = "TimingData"
	StreamTimingAppData       StreamID = "TimingAppData"
	StreamDriverList          StreamID = "DriverList"
	StreamLapCount            StreamID = "LapCount"
	StreamWeatherData         StreamID = "WeatherData"
	StreamTeamRadio           StreamID = "TeamRadio"
	StreamCarData             StreamID = "CarData"
	StreamHeartbeat           StreamID = "Heartbeat"
	StreamExtrapolatedClock   StreamID = "ExtrapolatedClock"
	StreamTopThree            StreamID = "TopThree"
)

// Category is the canonical RaceControlMsg category.
type Category string

const (
	CategoryCarEvent  Category = "CarEvent"
	CategorySafetyCar Category = "SafetyCar"
	CategoryFlag      Category = "Flag"
	CategorySession   Category = "Session"
	CategoryMessage   Category = "Message"
	CategoryOther     Category = "Other"
)

var categoryByCode = map[int]Category{
	0: CategoryCarEvent,
	1: CategorySafetyCar,
	2: CategoryFlag,
	3: CategorySession,
	4: CategoryMessage,
	5: CategoryOther,
}

// Flag is the canonical flag color/value carried by a RaceControlMsg or
// TrackStatus event.
type Flag string

const (
	FlagGreen        Flag = "Green"
	FlagYellow       Flag = "Yellow"
	FlagDoubleYellow Flag = "DoubleYellow"
	FlagRed          Flag = "Red"
	FlagBlue         Flag = "Blue"
	FlagWhite        Flag = "White"
	FlagBlack        Flag = "Black"
	FlagChequered    Flag = "Chequered"
	FlagClear        Flag = "Clear"
	FlagNone         Flag = ""
)

var flagByCode = map[int]Flag{
	1: FlagGreen,
	2: FlagYellow,
	3: FlagDoubleYellow,
	4: FlagRed,
	5: FlagBlue,
	6: FlagWhite,
	7: FlagBlack,
	8: FlagChequered,
}

// Scope is the canonical RaceControlMsg scope.
type Scope string

const (
	ScopeTrack  Scope = "Track"
	ScopeSector Scope = "Sector"
	ScopeDriver Scope = "Driver"
)

var scopeByCode = map[int]Scope{
	0: ScopeTrack,
	1: ScopeSector,
	2: ScopeDriver,
}

// TrackStatusCode is the numeric-to-canonical TrackStatus mapping from §3.
type TrackStatusCode int

const (
	TrackStatusClear      TrackStatusCode = 1
	TrackStatusYellow     TrackStatusCode = 2
	TrackStatusSC         TrackStatusCode = 4
	TrackStatusRed        TrackStatusCode = 5
	TrackStatusVSC        TrackStatusCode = 6
	TrackStatusVSCEnding  TrackStatusCode = 7
)

var trackStatusText = map[TrackStatusCode]string{
	TrackStatusClear:     "AllClear",
	TrackStatusYellow:    "Yellow",
	TrackStatusSC:        "SCDeployed",
	TrackStatusRed:       "Red",
	TrackStatusVSC:       "VSCDeployed",
	TrackStatusVSCEnding: "VSCEnding",
}

// RaceControlMsg is the canonical, normalized race control message (§3).
type RaceControlMsg struct {
	ID           int
	UTC          time.Time
	Category     Category
	Flag         Flag
	Scope        Scope
	Sector       int
	Lap          int
	DriverNumber string
	Message      string
}

// Sector is one timing sector for a driver's current lap.
type Sector struct {
	Value           string
	Status          int
	PersonalFastest bool
	OverallFastest  bool
	Stopped         bool
}

// DriverTiming is the merged per-driver timing record.
type DriverTiming struct {
	RacingNumber string
	Sectors      map[int]Sector
	BestSectors  map[int]Sector
}

// Driver is a merged DriverList identity record.
type Driver struct {
	RacingNumber string
	FullName     string
	TeamName     string
	TeamColor    string // canonical "#rrggbb", lower-case
}

// TrackStatusState is the canonical, merged TrackStatus snapshot.
type TrackStatusState struct {
	Code TrackStatusCode
	Text string
}
