// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/calibration"
	"github.com/f1/livetiming/internal/clock"
	"github.com/f1/livetiming/internal/flagstate"
	"github.com/f1/livetiming/internal/formation"
	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/normalize"
)

// sessionPipeline fans bus streams out to the per-session derived-state
// components (clock, flag state, formation probe, calibration). It is the
// "wire the streams up" half of process bootstrap that spec.md leaves
// implicit in its module list — every other component here already knows
// how to consume normalized events, this just subscribes them.
type sessionPipeline struct {
	liveBus     *bus.Bus
	merged      *normalize.MergedState
	flagState   *flagstate.Machine
	formation   *formation.Tracker
	calibration *calibration.Manager

	mu    sync.Mutex
	clock *clock.Clock
}

func newSessionPipeline(liveBus *bus.Bus, flagState *flagstate.Machine, ft *formation.Tracker, cal *calibration.Manager) *sessionPipeline {
	return &sessionPipeline{
		liveBus:     liveBus,
		merged:      normalize.NewMergedState(),
		flagState:   flagState,
		formation:   ft,
		calibration: cal,
		clock:       clock.New(clock.SessionRace, nil, 0),
	}
}

func (p *sessionPipeline) currentClock() *clock.Clock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock
}

// run subscribes to every stream the derived-state components care about
// and blocks until ctx is cancelled.
func (p *sessionPipeline) run(ctx context.Context) {
	streams := []string{
		"SessionInfo", "SessionStatus", "SessionData", "TrackStatus",
		"RaceControlMessages", "TopThree", "TimingData", "DriverList",
		"ExtrapolatedClock",
	}
	subs := make([]*bus.Subscriber, len(streams))
	for i, s := range streams {
		subs[i] = p.liveBus.Subscribe(s)
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	logger := log.WithComponent("pipeline")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-subs[0].C(): // SessionInfo
			if err := p.formation.HandleSessionInfo(ctx, ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: SessionInfo handling failed")
			}
		case ev := <-subs[1].C(): // SessionStatus
			if _, err := p.merged.ApplySessionStatus(ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: SessionStatus decode failed")
				continue
			}
			if err := p.formation.HandleSessionStatus(ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: formation SessionStatus handling failed")
			}
			if err := p.calibration.HandleSessionStatus(ctx, ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: calibration SessionStatus handling failed")
			}
		case ev := <-subs[2].C(): // SessionData
			anchors, err := p.merged.ApplySessionData(ev.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("pipeline: SessionData decode failed")
				continue
			}
			p.currentClock().ApplySessionDataAnchors(anchors)
		case ev := <-subs[3].C(): // TrackStatus
			ts, err := p.merged.ApplyTrackStatus(ev.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("pipeline: TrackStatus decode failed")
				continue
			}
			p.flagState.ApplyTrackStatus(ctx, ts)
		case ev := <-subs[4].C(): // RaceControlMessages
			msgs, err := p.merged.ApplyRaceControlMessages(ev.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("pipeline: RaceControlMessages decode failed")
				continue
			}
			for _, m := range msgs {
				p.flagState.ApplyRaceControlMsg(ctx, m)
			}
		case ev := <-subs[5].C(): // TopThree
			if err := p.merged.ApplyTopThree(ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: TopThree decode failed")
			}
		case ev := <-subs[6].C(): // TimingData
			if err := p.merged.ApplyTimingData(ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: TimingData decode failed")
			}
		case ev := <-subs[7].C(): // DriverList
			if err := p.merged.ApplyDriverList(ev.Payload); err != nil {
				logger.Warn().Err(err).Msg("pipeline: DriverList decode failed")
			}
		case ev := <-subs[8].C(): // ExtrapolatedClock
			anchor, err := normalize.ParseExtrapolatedClock(ev.Payload)
			if err != nil {
				logger.Warn().Err(err).Msg("pipeline: ExtrapolatedClock decode failed")
				continue
			}
			p.currentClock().ApplyExtrapolatedClock(anchor.Remaining, anchor.UTC, anchor.Extrapolating)
		}

		snap := p.formation.Snapshot()
		if snap.FormationStartUTC != nil && snap.Status == formation.StatusLive {
			p.calibration.HandleFormationStart(ctx, *snap.FormationStartUTC)
		}
	}
}

// clockDelaySetter adapts the session pipeline's Clock to calibration's
// DelaySetter contract (§4.9's "LiveDelayController" responsibility).
type clockDelaySetter struct {
	pipeline *sessionPipeline
}

func (d *clockDelaySetter) SetDelay(seconds int, source string) error {
	d.pipeline.currentClock().SetLiveDelay(time.Duration(seconds) * time.Second)
	log.WithComponent("calibration").Info().Int("seconds", seconds).Str("source", source).Msg("live delay applied")
	return nil
}
