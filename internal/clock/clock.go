// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock implements the Session Clock (C8): remaining/elapsed/total
// derivation from an ExtrapolatedClock anchor, with SessionData fallback
// and the Race 3-hour cap, per §4.7.
package clock

import (
	"sync"
	"time"

	"github.com/f1/livetiming/internal/metrics"
	"github.com/f1/livetiming/internal/normalize"
)

// SessionType selects the total_s derivation rule (§4.7 step 1).
type SessionType string

const (
	SessionRace        SessionType = "Race"
	SessionSprint       SessionType = "Sprint"
	SessionQualifying  SessionType = "Qualifying"
	SessionPractice    SessionType = "Practice"
)

// raceDefaultTotal is the Race session default: 2 hours.
const raceDefaultTotal = 2 * time.Hour

// raceThreeHourCap is the hard race duration cap (§4.7 step 5).
const raceThreeHourCap = 3 * time.Hour

// SourceQuality reports where the anchor came from.
type SourceQuality string

const (
	SourceOfficial             SourceQuality = "official"
	SourceSessionDataFallback  SourceQuality = "sessiondata_fallback"
	SourceUnavailable          SourceQuality = "unavailable"
)

var allQualities = []string{string(SourceOfficial), string(SourceSessionDataFallback), string(SourceUnavailable)}

// Snapshot is the full map returned by SessionClock.snapshot() (§6).
type Snapshot struct {
	RemainingS               *float64
	ElapsedS                 *float64
	TotalS                   *float64
	ClockRunning             bool
	SourceQuality            SourceQuality
	RaceStartUTC             *time.Time
	RaceThreeHourCapUTC      *time.Time
	RaceThreeHourRemainingS  *float64
}

// Clock owns the session clock state exclusively; callers feed it events
// and read immutable snapshots, per §5's single-writer rule.
type Clock struct {
	mu sync.RWMutex

	sessionType SessionType
	qualifyingPartTotals map[int]time.Duration
	practiceWindow       time.Duration

	anchorUTC           time.Time
	anchorRemaining     time.Duration
	anchorExtrapolating bool
	haveAnchor          bool

	sessionStartUTC time.Time
	haveSessionStart bool

	liveDelay time.Duration

	trackFlag     normalize.Flag
	sessionPaused bool

	now func() time.Time
}

// New builds a Clock for the given session type. qualifyingPartTotals maps
// a QualifyingPart index to that part's duration, used when sessionType is
// Qualifying; practiceWindow is the live window duration used when
// sessionType is Practice.
func New(sessionType SessionType, qualifyingPartTotals map[int]time.Duration, practiceWindow time.Duration) *Clock {
	return &Clock{
		sessionType:          sessionType,
		qualifyingPartTotals: qualifyingPartTotals,
		practiceWindow:       practiceWindow,
		now:                  time.Now,
	}
}

// ApplyExtrapolatedClock feeds an ExtrapolatedClock anchor event.
func (c *Clock) ApplyExtrapolatedClock(remaining time.Duration, utc time.Time, extrapolating bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorUTC = utc
	c.anchorRemaining = remaining
	c.anchorExtrapolating = extrapolating
	c.haveAnchor = true
}

// ApplySessionDataAnchors feeds a fallback session-start anchor from C6's
// SessionAnchors, used only when no ExtrapolatedClock has been observed.
func (c *Clock) ApplySessionDataAnchors(anchors normalize.SessionAnchors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if anchors.HasSessionStart {
		c.sessionStartUTC = anchors.SessionStartUTC
		c.haveSessionStart = true
	}
}

// SetLiveDelay updates the live delay seconds applied to wall time.
func (c *Clock) SetLiveDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveDelay = d
}

// SetTrackFlag and SetSessionPaused feed the inputs clock_running needs
// (§4.7 step 4).
func (c *Clock) SetTrackFlag(f normalize.Flag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackFlag = f
}

func (c *Clock) SetSessionPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionPaused = paused
}

// Compute derives the full snapshot per the §4.7 algorithm. qualifyingPart
// selects which part's total applies when sessionType is Qualifying.
func (c *Clock) Compute(qualifyingPart int) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.totalS(qualifyingPart)
	nowServer := c.now().Add(-c.liveDelay)

	var remaining *float64
	quality := SourceUnavailable

	switch {
	case c.haveAnchor:
		quality = SourceOfficial
		r := c.anchorRemaining
		if c.anchorExtrapolating {
			elapsedSinceAnchor := nowServer.Sub(c.anchorUTC)
			if elapsedSinceAnchor < 0 {
				elapsedSinceAnchor = 0
			}
			remain := r - elapsedSinceAnchor
			if remain < 0 {
				remain = 0
			}
			r = remain
		}
		v := r.Seconds()
		remaining = &v
	case c.haveSessionStart:
		quality = SourceSessionDataFallback
	}
	metrics.SetClockSourceQuality(string(quality), allQualities...)

	var elapsed *float64
	if remaining != nil && total != nil {
		e := *total - *remaining
		elapsed = &e
	} else if c.haveSessionStart {
		e := nowServer.Sub(c.sessionStartUTC).Seconds()
		elapsed = &e
	}

	clockRunning := c.haveAnchor && c.anchorExtrapolating &&
		remaining != nil && *remaining > 0 &&
		c.trackFlag != normalize.FlagRed && !c.sessionPaused

	if remaining != nil {
		metrics.ClockRemainingSeconds.Set(*remaining)
	}

	snap := Snapshot{
		RemainingS:    remaining,
		ElapsedS:      elapsed,
		TotalS:        total,
		ClockRunning:  clockRunning,
		SourceQuality: quality,
	}

	if c.sessionType == SessionRace && c.haveAnchor && total != nil {
		raceStart := c.anchorUTC.Add(-(time.Duration(*total*float64(time.Second)) - c.anchorRemaining))
		cap := raceStart.Add(raceThreeHourCap)
		capRemaining := cap.Sub(nowServer).Seconds()
		if capRemaining < 0 {
			capRemaining = 0
		}
		snap.RaceStartUTC = &raceStart
		snap.RaceThreeHourCapUTC = &cap
		snap.RaceThreeHourRemainingS = &capRemaining
	}

	return snap
}

func (c *Clock) totalS(qualifyingPart int) *float64 {
	switch c.sessionType {
	case SessionRace:
		v := raceDefaultTotal.Seconds()
		return &v
	case SessionQualifying:
		if d, ok := c.qualifyingPartTotals[qualifyingPart]; ok {
			v := d.Seconds()
			return &v
		}
		return nil
	case SessionPractice:
		if c.practiceWindow > 0 {
			v := c.practiceWindow.Seconds()
			return &v
		}
		return nil
	default:
		return nil
	}
}
