// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/config"
	"github.com/f1/livetiming/internal/metrics"
	"github.com/f1/livetiming/internal/normalize"
)

// ErrNotRunning is returned by Complete when the machine is not in
// ModeRunning.
var ErrNotRunning = errors.New("calibration: not running")

// ErrBlockedByReplay is returned by Prepare and Complete when a replay
// is active, per §4.9's arming guard.
var ErrBlockedByReplay = errors.New("calibration: blocked by replay")

var allModes = []string{string(ModeIdle), string(ModeWaiting), string(ModeRunning)}

// Manager owns the calibration state machine exclusively; external
// callers post intents (Prepare/Complete/Cancel) and feed events
// (HandleSessionStatus/HandleFormationStart); the single owning goroutine
// that runs the 1Hz tick/timeout serializes every mutation, per §5.
type Manager struct {
	controller   DelaySetter
	reference    config.ReferenceSource
	replayActive func() bool
	onCommit     func()
	timeout      time.Duration

	mu sync.Mutex

	mode         Mode
	waitingSince time.Time
	hasWaiting   bool
	startedAt    time.Time
	hasStarted   bool
	elapsedS     float64
	timeoutAt    time.Time
	hasTimeout   bool
	message      string
	lastResult   *Result

	lastSessionStatus normalize.SessionStatusValue
	formationStartUTC time.Time
	hasFormationStart bool

	cancelRun context.CancelFunc
	listeners []Listener

	now   func() time.Time
	sleep func(context.Context, time.Duration) bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTimeout overrides the 120s running timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithReplayActiveFunc supplies the "is a replay active" guard (§4.9); a
// nil func (the default) means replay can never block calibration.
func WithReplayActiveFunc(fn func() bool) Option {
	return func(m *Manager) { m.replayActive = fn }
}

// WithOnCommit registers a callback invoked after a successful Complete,
// mirroring the original's "schedule a reload of dependent consumers".
func WithOnCommit(fn func()) Option {
	return func(m *Manager) { m.onCommit = fn }
}

// New builds an idle Manager. reference supplies the live "session" vs
// "formation" gating choice (§6's live_delay_reference), shared with the
// Replay Transport's own ReplayStartReference via the same config.ReferenceSource.
func New(controller DelaySetter, reference config.ReferenceSource, opts ...Option) *Manager {
	m := &Manager{
		controller: controller,
		reference:  reference,
		timeout:    DefaultTimeout,
		mode:       ModeIdle,
		now:        time.Now,
	}
	m.sleep = m.defaultSleep
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetCalibrationState(string(ModeIdle), allModes...)
	return m
}

// Subscribe registers a listener, invoked immediately and on every
// committed change.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	snap := m.snapshotLocked()
	m.mu.Unlock()
	l(snap)
}

// Snapshot returns the current immutable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:       m.mode,
		ElapsedS:   m.elapsedS,
		Message:    m.message,
		LastResult: m.lastResult,
	}
	if m.hasWaiting {
		v := m.waitingSince
		snap.WaitingSince = &v
	}
	if m.hasStarted {
		v := m.startedAt
		snap.StartedAt = &v
	}
	if m.hasTimeout {
		v := m.timeoutAt
		snap.TimeoutAt = &v
	}
	return snap
}

// Close cancels any running tick/timeout goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancelRun
	m.cancelRun = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) isReplayActive() bool {
	if m.replayActive == nil {
		return false
	}
	return m.replayActive()
}

func (m *Manager) currentReference() config.ReferenceMode {
	if m.reference == nil {
		return config.ReferenceSession
	}
	return m.reference.LiveDelayReference()
}

// Prepare arms calibration and waits for the gating reference event
// (§4.9's "prepare" transition).
func (m *Manager) Prepare(ctx context.Context) (Snapshot, error) {
	if m.isReplayActive() {
		return m.blockedByReplay(), ErrBlockedByReplay
	}

	m.Close()
	ref := m.currentReference()

	m.mu.Lock()
	now := m.now()
	m.mode = ModeWaiting
	m.waitingSince = now
	m.hasWaiting = true
	m.hasStarted = false
	m.elapsedS = 0
	m.hasTimeout = false
	m.message = waitingMessage(ref)
	metrics.SetCalibrationState(string(ModeWaiting), allModes...)

	alreadySatisfied, startedAt := m.referenceAlreadySatisfiedLocked(ref)
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	notify(listeners, snap)

	if alreadySatisfied {
		m.startTimer(ctx, startedAt)
	}
	return m.Snapshot(), nil
}

func (m *Manager) referenceAlreadySatisfiedLocked(ref config.ReferenceMode) (bool, time.Time) {
	switch ref {
	case config.ReferenceFormation:
		if m.hasFormationStart {
			return true, m.formationStartUTC
		}
	default:
		if m.lastSessionStatus == normalize.SessionStatusStarted {
			return true, m.now()
		}
	}
	return false, time.Time{}
}

// Complete commits the measured delay, clamped to [0,300]s (§4.9).
func (m *Manager) Complete(ctx context.Context, source string) (Snapshot, error) {
	if m.isReplayActive() {
		return m.blockedByReplay(), ErrBlockedByReplay
	}

	m.mu.Lock()
	if m.mode != ModeRunning {
		m.mu.Unlock()
		return Snapshot{}, ErrNotRunning
	}
	elapsed := m.computeElapsedLocked()
	seconds := clampSeconds(elapsed)
	m.mu.Unlock()

	if err := m.controller.SetDelay(seconds, "calibration"); err != nil {
		return Snapshot{}, err
	}

	m.Close()
	m.mu.Lock()
	m.lastResult = &Result{Seconds: seconds, CompletedAt: m.now(), Source: source}
	m.transitionToIdleLocked("Live delay updated to " + strconv.Itoa(seconds) + " seconds.")
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	notify(listeners, snap)
	if m.onCommit != nil {
		m.onCommit()
	}
	return snap, nil
}

// Cancel aborts calibration unconditionally, regardless of replay state,
// when source is "replay" or "timeout" (the original's own code paths
// that must not be blocked by the very guard they are enforcing).
func (m *Manager) Cancel(source string) Snapshot {
	if m.isReplayActive() && source != "replay" && source != "timeout" {
		return m.blockedByReplay()
	}
	m.Close()
	m.mu.Lock()
	m.transitionToIdleLocked("Calibration cancelled.")
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	notify(listeners, snap)
	return snap
}

func (m *Manager) blockedByReplay() Snapshot {
	m.Close()
	m.mu.Lock()
	m.transitionToIdleLocked("Live delay calibration is not available in replay mode.")
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()
	notify(listeners, snap)
	return snap
}

// HandleSessionStatus folds a SessionStatus payload in: it starts the
// running timer in waiting(session) mode, and aborts a running
// calibration if the session ends first (§4.9).
func (m *Manager) HandleSessionStatus(ctx context.Context, payload json.RawMessage) error {
	status, err := normalize.ParseSessionStatus(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSessionStatus = status
	ref := m.currentReference()

	switch {
	case m.mode == ModeWaiting && ref == config.ReferenceSession && status == normalize.SessionStatusStarted:
		startedAt := m.now()
		m.mu.Unlock()
		m.startTimer(ctx, startedAt)
		return nil
	case m.mode == ModeRunning && isSessionFinished(status):
		m.transitionToIdleLocked("Session ended - calibration stopped.")
		snap := m.snapshotLocked()
		listeners := append([]Listener(nil), m.listeners...)
		m.mu.Unlock()
		m.Close()
		notify(listeners, snap)
		return nil
	}
	m.mu.Unlock()
	return nil
}

// HandleFormationStart folds in the Formation-Start Probe's discovered
// marker; in waiting(formation) mode this starts the timer at that UTC,
// not at the wall time it was observed (§4.9).
func (m *Manager) HandleFormationStart(ctx context.Context, formationStartUTC time.Time) {
	m.mu.Lock()
	m.formationStartUTC = formationStartUTC
	m.hasFormationStart = true
	ref := m.currentReference()
	shouldStart := m.mode == ModeWaiting && ref == config.ReferenceFormation
	m.mu.Unlock()

	if shouldStart {
		m.startTimer(ctx, formationStartUTC)
	}
}

func isSessionFinished(status normalize.SessionStatusValue) bool {
	switch status {
	case normalize.SessionStatusFinished, normalize.SessionStatusFinalised, normalize.SessionStatusEnds:
		return true
	default:
		return false
	}
}

func (m *Manager) startTimer(ctx context.Context, startedAt time.Time) {
	m.mu.Lock()
	if m.mode != ModeWaiting {
		m.mu.Unlock()
		return
	}
	m.mode = ModeRunning
	m.hasWaiting = false
	m.startedAt = startedAt
	m.hasStarted = true
	m.elapsedS = 0
	m.timeoutAt = startedAt.Add(m.timeout)
	m.hasTimeout = true
	m.message = runningMessage(m.currentReference())
	metrics.SetCalibrationState(string(ModeRunning), allModes...)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	notify(listeners, snap)
	go m.runTicker(runCtx)
}

// runTicker recomputes elapsed once a second and enforces the timeout,
// replacing the original's two separate loop.call_later handles with one
// goroutine.
func (m *Manager) runTicker(ctx context.Context) {
	for {
		if !m.sleep(ctx, tickInterval) {
			return
		}

		m.mu.Lock()
		if m.mode != ModeRunning {
			m.mu.Unlock()
			return
		}
		elapsed := m.computeElapsedLocked()
		m.elapsedS = elapsed
		timedOut := m.now().After(m.timeoutAt) || m.now().Equal(m.timeoutAt)
		snap := m.snapshotLocked()
		listeners := append([]Listener(nil), m.listeners...)
		m.mu.Unlock()

		notify(listeners, snap)

		if timedOut {
			m.Cancel("timeout")
			return
		}
	}
}

func (m *Manager) computeElapsedLocked() float64 {
	if !m.hasStarted {
		return 0
	}
	e := m.now().Sub(m.startedAt).Seconds()
	if e < 0 {
		e = 0
	}
	return e
}

func (m *Manager) transitionToIdleLocked(message string) {
	m.mode = ModeIdle
	m.waitingSince = time.Time{}
	m.hasWaiting = false
	m.startedAt = time.Time{}
	m.hasStarted = false
	m.elapsedS = 0
	m.timeoutAt = time.Time{}
	m.hasTimeout = false
	m.message = message
	metrics.SetCalibrationState(string(ModeIdle), allModes...)
}

func (m *Manager) defaultSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func clampSeconds(elapsed float64) int {
	seconds := int(elapsed + 0.5)
	if seconds < minElapsedS {
		seconds = minElapsedS
	}
	if seconds > maxElapsedS {
		seconds = maxElapsedS
	}
	return seconds
}

func waitingMessage(ref config.ReferenceMode) string {
	if ref == config.ReferenceFormation {
		return "Waiting for formation start marker (race/sprint)."
	}
	return "Waiting for SessionStatus to report 'Started'."
}

func runningMessage(ref config.ReferenceMode) string {
	if ref == config.ReferenceFormation {
		return "Calibration running from formation marker - press 'match live delay' when TV catches up."
	}
	return "Calibration running - press 'match live delay' when TV catches up."
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}

