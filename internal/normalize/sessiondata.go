// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"time"
)

// SessionStatusValue is the canonical SessionStatus.Status enum.
type SessionStatusValue string

const (
	SessionStatusStarted   SessionStatusValue = "Started"
	SessionStatusFinished  SessionStatusValue = "Finished"
	SessionStatusFinalised SessionStatusValue = "Finalised"
	SessionStatusEnds      SessionStatusValue = "Ends"
	SessionStatusAborted   SessionStatusValue = "Aborted"
)

type rawSessionStatus struct {
	Status string `json:"Status"`
}

// ParseSessionStatus extracts the canonical status value, used by C8 and
// C10 to detect session start/finish transitions (§4.5).
func ParseSessionStatus(payload json.RawMessage) (SessionStatusValue, error) {
	var raw rawSessionStatus
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", err
	}
	return SessionStatusValue(raw.Status), nil
}

// rawSessionData mirrors the SessionData stream: a Series of timestamped
// qualifying-part markers and a StatusSeries of session status flips.
type rawSessionData struct {
	Series       map[string]rawSeriesEntry       `json:"Series"`
	StatusSeries map[string]rawStatusSeriesEntry `json:"StatusSeries"`
}

type rawSeriesEntry struct {
	Utc             string `json:"Utc"`
	QualifyingPart  int    `json:"QualifyingPart"`
}

type rawStatusSeriesEntry struct {
	Utc           string `json:"Utc"`
	SessionStatus string `json:"SessionStatus"`
}

// SessionAnchors are the clock-relevant facts extracted from a SessionData
// payload: the most recent qualifying part marker and the earliest
// "Started" status-series entry, used as a fallback session start anchor
// when ExtrapolatedClock has not yet been observed (§4.7 step 3).
type SessionAnchors struct {
	LatestQualifyingPart int
	LatestPartUTC        time.Time
	SessionStartUTC      time.Time
	HasSessionStart      bool
}

// ParseSessionData folds one SessionData payload into anchors, keeping the
// latest Series entry and the earliest Started StatusSeries entry.
func ParseSessionData(payload json.RawMessage, anchors SessionAnchors) (SessionAnchors, error) {
	var raw rawSessionData
	if err := json.Unmarshal(payload, &raw); err != nil {
		return anchors, err
	}

	for _, entry := range raw.Series {
		t := parseUTC(entry.Utc, time.Time{})
		if t.After(anchors.LatestPartUTC) {
			anchors.LatestPartUTC = t
			anchors.LatestQualifyingPart = entry.QualifyingPart
		}
	}
	for _, entry := range raw.StatusSeries {
		if entry.SessionStatus != string(SessionStatusStarted) {
			continue
		}
		t := parseUTC(entry.Utc, time.Time{})
		if !anchors.HasSessionStart || t.Before(anchors.SessionStartUTC) {
			anchors.SessionStartUTC = t
			anchors.HasSessionStart = true
		}
	}
	return anchors, nil
}
