// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/clock"
	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/formation"
)

type fakeReference struct{}

func (fakeReference) LiveDelayReference() config.ReferenceMode   { return config.ReferenceSession }
func (fakeReference) ReplayStartReference() config.ReferenceMode { return config.ReferenceSession }

func newTestPipeline(t *testing.T) (*sessionPipeline, *bus.Bus) {
	t.Helper()
	liveBus := bus.New()
	flagState := flagstate.New()
	formationTracker := formation.New(nil, "https://example.invalid/static")
	t.Cleanup(formationTracker.Close)

	p := newSessionPipeline(liveBus, flagState, formationTracker, nil)
	delaySetter := &clockDelaySetter{pipeline: p}
	cal := calibration.New(delaySetter, fakeReference{})
	t.Cleanup(cal.Close)
	p.calibration = cal

	return p, liveBus
}

func TestSessionPipeline_TrackStatusDrivesFlagState(t *testing.T) {
	p, liveBus := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	liveBus.InjectMessage("TrackStatus", []byte(`{"Status":2}`))

	require.Eventually(t, func() bool {
		return p.flagState.Snapshot().Derived == flagstate.DerivedYellow
	}, time.Second, time.Millisecond, "TrackStatus Yellow must reach the flag state machine")
}

func TestSessionPipeline_RaceControlSafetyCarSetsDerivedSC(t *testing.T) {
	p, liveBus := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	liveBus.InjectMessage("RaceControlMessages", []byte(`{"Messages":[
		{"Utc":"2024-05-26T13:00:00Z","Category":"SafetyCar","Message":"SAFETY CAR DEPLOYED"}
	]}`))

	require.Eventually(t, func() bool {
		return p.flagState.Snapshot().Derived == flagstate.DerivedSC
	}, time.Second, time.Millisecond, "a Safety Car deployment message must set Derived=SC")
}

func TestSessionPipeline_SessionDataFeedsClockAnchors(t *testing.T) {
	p, liveBus := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.run(ctx)

	liveBus.InjectMessage("SessionData", []byte(`{
		"StatusSeries":{"0":{"Utc":"2024-05-26T13:00:00Z","SessionStatus":"Started"}}
	}`))

	require.Eventually(t, func() bool {
		snap := p.currentClock().Compute(0)
		return snap.SourceQuality == clock.SourceSessionDataFallback
	}, time.Second, time.Millisecond, "a SessionData StatusSeries Started entry must seed the fallback anchor")
}

func TestClockDelaySetter_AppliesLiveDelayToSessionClock(t *testing.T) {
	p, _ := newTestPipeline(t)
	setter := &clockDelaySetter{pipeline: p}

	// Anchor 60s remaining, 30s ago: undelayed that leaves 30s, while a 12s
	// live delay moves server time back and leaves 42s.
	p.currentClock().ApplyExtrapolatedClock(60*time.Second, time.Now().Add(-30*time.Second), true)
	require.NoError(t, setter.SetDelay(12, "test"))
	assert.NotNil(t, p.currentClock())
	snap := p.currentClock().Compute(0)
	require.NotNil(t, snap.RemainingS)
	assert.InDelta(t, 42.0, *snap.RemainingS, 1.0)
}
