// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"sync"
)

// MergedState is the read-only, consumer-facing view the Merger exposes
// over the five hot streams (§4.5, closing sentence).
type MergedState struct {
	mu sync.RWMutex

	dedup   *RaceControlDedup
	rcMsgs  []RaceControlMsg
	track   TrackStatusState
	status  SessionStatusValue
	anchors SessionAnchors
	timing  *TimingTable
	drivers *DriverRoster
	top3    *TopThreeBoard

	lastSessionPart int
}

// NewMergedState builds an empty Merger state.
func NewMergedState() *MergedState {
	return &MergedState{
		dedup:   NewRaceControlDedup(),
		timing:  NewTimingTable(),
		drivers: NewDriverRoster(),
		top3:    NewTopThreeBoard(),
	}
}

// ApplyRaceControlMessages normalizes and appends new, deduplicated
// messages, returning only the newly admitted ones (for fan-out to C7).
func (m *MergedState) ApplyRaceControlMessages(payload json.RawMessage) ([]RaceControlMsg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessionStart := m.anchors.SessionStartUTC
	fresh, err := ParseRaceControlMessages(payload, m.dedup, sessionStart)
	if err != nil {
		return nil, err
	}
	m.rcMsgs = append(m.rcMsgs, fresh...)
	return fresh, nil
}

// ApplyTrackStatus stores the merged TrackStatus and returns it.
func (m *MergedState) ApplyTrackStatus(payload json.RawMessage) (TrackStatusState, error) {
	ts, err := ParseTrackStatus(payload)
	if err != nil {
		return TrackStatusState{}, err
	}
	m.mu.Lock()
	m.track = ts
	m.mu.Unlock()
	return ts, nil
}

// ApplySessionStatus stores and returns the current status.
func (m *MergedState) ApplySessionStatus(payload json.RawMessage) (SessionStatusValue, error) {
	status, err := ParseSessionStatus(payload)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	return status, nil
}

// ApplySessionData folds session anchors (used by C8) and detects a
// SessionPart change, resetting per-driver best sectors when it happens
// (§4.5: "SessionPart change resets all per-driver best sectors").
func (m *MergedState) ApplySessionData(payload json.RawMessage) (SessionAnchors, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := ParseSessionData(payload, m.anchors)
	if err != nil {
		return SessionAnchors{}, err
	}
	if next.LatestQualifyingPart != m.lastSessionPart {
		m.timing.ResetBestSectors()
		m.lastSessionPart = next.LatestQualifyingPart
	}
	m.anchors = next
	return next, nil
}

// ApplyTimingData merges a TimingData delta.
func (m *MergedState) ApplyTimingData(payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timing.ApplyTimingData(payload)
}

// ApplyDriverList merges a DriverList delta.
func (m *MergedState) ApplyDriverList(payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drivers.ApplyDriverList(payload)
}

// ApplyTopThree merges a TopThree delta.
func (m *MergedState) ApplyTopThree(payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.top3.ApplyTopThree(payload)
}

// TrackStatus returns the current merged TrackStatus snapshot.
func (m *MergedState) TrackStatus() TrackStatusState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.track
}

// SessionStatus returns the current merged SessionStatus value.
func (m *MergedState) SessionStatus() SessionStatusValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SessionAnchors returns a copy of the current clock anchors.
func (m *MergedState) SessionAnchors() SessionAnchors {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.anchors
}

// DriverTiming returns the merged timing record for a racing number.
func (m *MergedState) DriverTiming(racingNumber string) (DriverTiming, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timing.Driver(racingNumber)
}

// Driver returns the merged identity record for a racing number.
func (m *MergedState) Driver(racingNumber string) (Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivers.Driver(racingNumber)
}

// TopThreeLine returns the merged classification line at position idx.
func (m *MergedState) TopThreeLine(idx int) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.top3.Line(idx)
}

// RaceControlMessages returns a copy of every admitted message so far.
func (m *MergedState) RaceControlMessages() []RaceControlMsg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RaceControlMsg, len(m.rcMsgs))
	copy(out, m.rcMsgs)
	return out
}
