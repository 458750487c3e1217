// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package replay implements the Replay Transport (C5): deterministic
// playback of a recorded session from local cache, pacing frame delivery
// to a speed multiplier and supporting pause/resume, per §4.4.
package replay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/replaystore"
)

// StartReference selects where playback begins within the recording.
type StartReference int

const (
	// StartSession begins playback at the recorded session-start offset.
	StartSession StartReference = iota
	// StartFormation begins playback at the formation-start offset.
	StartFormation
)

const (
	minSpeed = 0.1
	maxSpeed = 10.0
)

// Transport implements bus.Transport by replaying a ReplayIndex's frames
// at a configurable speed, never reconnecting once exhausted.
type Transport struct {
	index             *replaystore.ReplayIndex
	speed             float64
	startOffsetMs     int64
	formationStartMs  int64
	hasFormationStart bool

	mu       sync.Mutex
	paused   bool
	closed   bool
	position int64
	resumeCh chan struct{} // non-nil and open while paused; closed by Resume/Close

	playbackStarted time.Time
	pausedTotal     time.Duration
	pauseStartedAt  time.Time

	events chan bus.TransportEvent
	now    func() time.Time
	sleep  func(context.Context, time.Duration) bool
}

// New builds a replay Transport over idx. speed is clamped to [0.1, 10].
// ref selects whether playback begins at the session-start or
// formation-start offset (§4.4's "start_offset" rule).
func New(idx *replaystore.ReplayIndex, speed float64, ref StartReference, formationStartMs int64) *Transport {
	if speed < minSpeed {
		speed = minSpeed
	}
	if speed > maxSpeed {
		speed = maxSpeed
	}

	startOffset := idx.Index.SessionStartedAtMs
	hasFormation := false
	if ref == StartFormation {
		startOffset = formationStartMs
		hasFormation = true
	}

	t := &Transport{
		index:             idx,
		speed:             speed,
		startOffsetMs:     startOffset,
		formationStartMs:  formationStartMs,
		hasFormationStart: hasFormation,
		events:            make(chan bus.TransportEvent, 256),
		now:               time.Now,
	}
	t.sleep = t.defaultSleep
	return t
}

// EnsureConnection starts the playback goroutine; data is already local,
// so there is no network handshake (§4.4).
func (t *Transport) EnsureConnection(ctx context.Context) error {
	t.mu.Lock()
	t.playbackStarted = t.now()
	t.position = t.startOffsetMs
	t.mu.Unlock()

	go t.playback(ctx)
	return nil
}

// Messages implements bus.Transport.
func (t *Transport) Messages() <-chan bus.TransportEvent { return t.events }

// Close permanently stops playback (§4.10: completion is not restartable).
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	resumeCh := t.resumeCh
	t.resumeCh = nil
	t.mu.Unlock()
	if resumeCh != nil {
		close(resumeCh)
	}
	return nil
}

// ExpectsHeartbeat implements bus.Transport: replay has no external
// heartbeat stream, so the Bus must not staleness-close it.
func (t *Transport) ExpectsHeartbeat() bool { return false }

// Pause suspends playback; resumable via Resume.
func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.paused = true
	t.pauseStartedAt = t.now()
	t.resumeCh = make(chan struct{})
}

// Resume continues playback after Pause.
func (t *Transport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.paused = false
	t.pausedTotal += t.now().Sub(t.pauseStartedAt)
	if t.resumeCh != nil {
		close(t.resumeCh)
		t.resumeCh = nil
	}
}

// PositionMs returns the current playback position.
func (t *Transport) PositionMs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// DurationMs returns the recording's total duration.
func (t *Transport) DurationMs() int64 { return t.index.DurationMs() }

// SessionStartOffsetMs returns the offset playback began at.
func (t *Transport) SessionStartOffsetMs() int64 { return t.startOffsetMs }

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// waitWhilePaused blocks while paused, returning false if closed or ctx
// is done in the meantime.
func (t *Transport) waitWhilePaused(ctx context.Context) bool {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return false
		}
		if !t.paused {
			t.mu.Unlock()
			return true
		}
		resumeCh := t.resumeCh
		t.mu.Unlock()

		select {
		case <-resumeCh:
		case <-ctx.Done():
			return false
		}
	}
}

// elapsedPlayback returns wall-clock time spent playing, excluding pauses.
func (t *Transport) elapsedPlayback() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.now().Sub(t.playbackStarted) - t.pausedTotal
	if t.paused {
		total -= t.now().Sub(t.pauseStartedAt)
	}
	return total
}

func (t *Transport) defaultSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// playback walks the recorded frames, pacing delivery to the speed
// multiplier and honoring pause/resume, per §4.4's Replay Transport rule.
func (t *Transport) playback(ctx context.Context) {
	defer close(t.events)
	defer func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
	}()

	for _, frame := range t.index.Frames {
		if frame.TimestampMs < t.startOffsetMs {
			continue
		}
		if !t.waitWhilePaused(ctx) {
			return
		}
		if t.isClosed() || ctx.Err() != nil {
			return
		}

		targetElapsed := time.Duration(float64(frame.TimestampMs-t.startOffsetMs) / t.speed * float64(time.Millisecond))
		delay := targetElapsed - t.elapsedPlayback()
		if delay > 10*time.Millisecond {
			if !t.sleep(ctx, delay) {
				return
			}
		}

		t.mu.Lock()
		t.position = frame.TimestampMs
		t.mu.Unlock()

		select {
		case t.events <- bus.TransportEvent{Stream: frame.Stream, Payload: json.RawMessage(frame.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}

var _ bus.Transport = (*Transport)(nil)
