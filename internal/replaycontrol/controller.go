// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaycontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/replaystore"
	"github.com/f1/livetiming/internal/transport/replay"
)

var (
	// ErrNotReady is returned by Play when no session has been loaded yet.
	ErrNotReady = errors.New("replaycontrol: session not ready for playback")
	// ErrNotPlaying is returned by Pause when playback has not started.
	ErrNotPlaying = errors.New("replaycontrol: not playing")
	// ErrNotPaused is returned by Resume when playback is not paused.
	ErrNotPaused = errors.New("replaycontrol: not paused")
)

// FormationStartMs resolves the formation-start offset for a loaded
// session, when replay_start_reference is "formation" (§6). Returning
// ok=false falls back to the session-start offset.
type FormationStartMs func(uniqueID string) (ms int64, ok bool)

// Controller is the ReplayController named in §6: it owns the Replay
// Recorder and, once a session is loaded, the Replay Transport it swaps
// into the shared Live Bus.
type Controller struct {
	recorder     *replaystore.Recorder
	liveBus      *bus.Bus
	availability *availability.Tracker
	reference    config.ReferenceSource
	formationMs  FormationStartMs
	speed        float64

	mu              sync.Mutex
	state           State
	uniqueID        string
	index           *replaystore.ReplayIndex
	transport       *replay.Transport
	originalFactory bus.TransportFactory
	replayActive    bool
	cancelPlayback  context.CancelFunc
	listeners       []Listener
}

// New builds a Controller. formationMs may be nil, in which case replay
// always starts from the recorded session-start offset.
func New(recorder *replaystore.Recorder, liveBus *bus.Bus, tracker *availability.Tracker, reference config.ReferenceSource, formationMs FormationStartMs) *Controller {
	return &Controller{
		recorder:     recorder,
		liveBus:      liveBus,
		availability: tracker,
		reference:    reference,
		formationMs:  formationMs,
		speed:        1.0,
		state:        StateIdle,
	}
}

// SetSpeed overrides the playback speed multiplier for future Play calls;
// the Replay Transport itself clamps it to [0.1, 10].
func (c *Controller) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
	l(snap)
}

func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Status {
	status := Status{State: c.state, UniqueID: c.uniqueID}
	if c.transport != nil {
		status.PositionMs = c.transport.PositionMs()
		status.SessionStartMs = c.transport.SessionStartOffsetMs()
		status.DurationMs = c.transport.DurationMs()
		status.ElapsedS = float64(status.PositionMs-status.SessionStartMs) / 1000
		if status.ElapsedS < 0 {
			status.ElapsedS = 0
		}
	}
	return status
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		l(snap)
	}
}

// PrepareAndLoadSession fetches (or reuses) a session's archives and
// leaves the controller in StateReady (§6's prepare_and_load_session).
func (c *Controller) PrepareAndLoadSession(ctx context.Context, ref replaystore.SessionRef) error {
	idx, err := c.recorder.Record(ctx, ref)
	if err != nil {
		return fmt.Errorf("replaycontrol: load session %s: %w", ref.UniqueID, err)
	}
	c.mu.Lock()
	c.index = idx
	c.uniqueID = ref.UniqueID
	c.state = StateReady
	c.mu.Unlock()
	c.notify()
	return nil
}

// Play starts playback of the loaded session, swapping a Replay Transport
// into the Live Bus and flipping LiveAvailability live for the duration.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	index := c.index
	speed := c.speed
	c.mu.Unlock()

	startRef := replay.StartSession
	var formationMs int64
	if c.reference != nil && c.reference.ReplayStartReference() == config.ReferenceFormation {
		if c.formationMs != nil {
			if ms, ok := c.formationMs(c.uniqueID); ok {
				formationMs = ms
				startRef = replay.StartFormation
			}
		}
	}

	transport := replay.New(index, speed, startRef, formationMs)

	c.mu.Lock()
	c.transport = transport
	c.originalFactory = c.liveBus.CurrentFactory()
	c.replayActive = true
	c.mu.Unlock()

	if c.availability != nil {
		_ = c.availability.SetState(true, "replay")
	}

	c.liveBus.SwapTransport(func() (bus.Transport, error) { return transport, nil })

	for stream, payload := range index.Index.InitialState {
		c.liveBus.InjectMessage(stream, payload)
	}

	playCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelPlayback = cancel
	c.state = StatePlaying
	c.mu.Unlock()
	c.notify()

	go c.watchPlayback(playCtx, transport)

	return nil
}

// watchPlayback mirrors _run_playback: poll until the transport closes on
// its own (playback complete), then clean up as Stop would.
func (c *Controller) watchPlayback(ctx context.Context, transport *replay.Transport) {
	ticker := time.NewTicker(playbackPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		duration := transport.DurationMs()
		if duration > 0 && transport.PositionMs() >= duration {
			c.finishNaturally()
			return
		}
	}
}

func (c *Controller) finishNaturally() {
	c.mu.Lock()
	if c.state != StatePlaying && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.replayActive = false
	if c.originalFactory != nil {
		c.liveBus.SwapTransport(c.originalFactory)
	} else {
		c.liveBus.SwapTransport(nil)
	}
	c.originalFactory = nil
	c.transport = nil
	c.state = StateIdle
	uniqueID := c.uniqueID
	c.mu.Unlock()

	if c.availability != nil {
		_ = c.availability.SetState(false, "replay-completed")
	}
	log.L().Info().Str("session", uniqueID).Msg("replaycontrol: playback ended naturally")
	c.notify()
}

// Pause suspends playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying || c.transport == nil {
		c.mu.Unlock()
		return ErrNotPlaying
	}
	c.transport.Pause()
	c.state = StatePaused
	c.mu.Unlock()
	c.notify()
	return nil
}

// Resume continues playback after Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused || c.transport == nil {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.transport.Resume()
	c.state = StatePlaying
	c.mu.Unlock()
	c.notify()
	return nil
}

// Stop ends playback (if any) and restores the Bus's original transport
// factory, per §6's stop. Safe to call from any state.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancelPlayback
	c.cancelPlayback = nil
	wasActive := c.replayActive
	originalFactory := c.originalFactory
	transport := c.transport
	c.replayActive = false
	c.originalFactory = nil
	c.transport = nil
	c.state = StateIdle
	uniqueID := c.uniqueID
	c.uniqueID = ""
	c.index = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if wasActive {
		if originalFactory != nil {
			c.liveBus.SwapTransport(originalFactory)
		} else {
			c.liveBus.SwapTransport(nil)
		}
	}
	if transport != nil {
		_ = transport.Close()
	}
	if c.availability != nil {
		_ = c.availability.SetState(false, "replay-stopped")
	}
	if uniqueID != "" {
		_ = c.recorder.Unload(uniqueID)
	}

	c.notify()
	return nil
}
