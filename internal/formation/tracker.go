// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package formation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/metrics"
	"github.com/f1/livetiming/internal/normalize"
)

// Tracker owns the Formation-Start Probe exclusively; SessionInfo and
// SessionStatus events are folded in by the caller (the component wiring
// the Live Bus to the rest of the pipeline), mirroring the push style of
// internal/clock and internal/flagstate.
type Tracker struct {
	httpClient *http.Client
	staticBase string

	mu        sync.Mutex
	listeners []Listener

	sessionID   string
	sessionType string
	sessionName string
	path        string

	scheduledStartUTC time.Time
	hasScheduledStart bool

	status            Status
	formationStartUTC time.Time
	deltaSeconds      float64
	hasDelta          bool
	source            string
	lastError         string

	cancelProbe context.CancelFunc

	now   func() time.Time
	sleep func(context.Context, time.Duration) bool
}

// New builds an idle Tracker. staticBase is the archive root (e.g.
// "https://livetiming.formula1.com/static").
func New(httpClient *http.Client, staticBase string) *Tracker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout + 5*time.Second}
	}
	t := &Tracker{
		httpClient: httpClient,
		staticBase: strings.TrimSuffix(staticBase, "/"),
		status:     StatusIdle,
		now:        time.Now,
	}
	t.sleep = t.defaultSleep
	metrics.SetFormationProbeState(string(StatusIdle), allStatuses...)
	return t
}

// Subscribe registers a listener, invoked immediately with the current
// snapshot and again on every committed change.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	snap := t.snapshotLocked()
	t.mu.Unlock()
	l(snap)
}

// Snapshot returns the current immutable state (§6).
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:      t.status,
		SessionID:   t.sessionID,
		SessionType: t.sessionType,
		SessionName: t.sessionName,
		Path:        t.path,
		Source:      t.source,
		Error:       t.lastError,
	}
	if t.hasScheduledStart {
		v := t.scheduledStartUTC
		snap.ScheduledStartUTC = &v
	}
	if !t.formationStartUTC.IsZero() {
		v := t.formationStartUTC
		snap.FormationStartUTC = &v
	}
	if t.hasDelta {
		v := t.deltaSeconds
		snap.DeltaSeconds = &v
	}
	return snap
}

// Close cancels any in-flight probe. Safe to call on an idle Tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancel := t.cancelProbe
	t.cancelProbe = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset clears all session-scoped state, per the original's reset(), used
// when the Supervisor tears a session down.
func (t *Tracker) Reset() {
	t.Close()
	t.mu.Lock()
	t.sessionID = ""
	t.sessionType = ""
	t.sessionName = ""
	t.path = ""
	t.hasScheduledStart = false
	t.resetProbeStateLocked(StatusIdle)
	snap := t.snapshotLocked()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()
	notify(listeners, snap)
}

func (t *Tracker) resetProbeStateLocked(status Status) {
	t.status = status
	t.formationStartUTC = time.Time{}
	t.hasDelta = false
	t.source = ""
	t.lastError = ""
	metrics.SetFormationProbeState(string(status), allStatuses...)
}

// HandleSessionInfo folds a SessionInfo payload in, arming the probe once
// the session is confirmed Race/Sprint with a known path and scheduled
// start (§4.8).
func (t *Tracker) HandleSessionInfo(ctx context.Context, payload json.RawMessage) error {
	raw, err := parseSessionInfo(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	sessionID := raw.sessionID()
	if sessionID != "" && sessionID != t.sessionID {
		t.sessionID = sessionID
		t.sessionType = ""
		t.sessionName = ""
		t.path = ""
		t.hasScheduledStart = false
		t.resetProbeStateLocked(StatusIdle)
		if t.cancelProbe != nil {
			t.cancelProbe()
			t.cancelProbe = nil
		}
	}

	if raw.Type != "" {
		t.sessionType = raw.Type
	}
	if raw.Name != "" {
		t.sessionName = raw.Name
	}
	if p := strings.Trim(raw.Path, "/"); p != "" {
		t.path = p
	}
	if start, ok := scheduledStartUTC(raw); ok {
		t.scheduledStartUTC = start
		t.hasScheduledStart = true
	}

	if !isRaceOrSprint(t.sessionType, t.sessionName) {
		changed := t.status != StatusNotApplicable
		t.resetProbeStateLocked(StatusNotApplicable)
		snap := t.snapshotLocked()
		listeners := append([]Listener(nil), t.listeners...)
		t.mu.Unlock()
		if changed {
			notify(listeners, snap)
		}
		return nil
	}

	if !t.formationStartUTC.IsZero() {
		t.mu.Unlock()
		return nil
	}

	ready := t.hasScheduledStart && t.path != ""
	var snap Snapshot
	var listeners []Listener
	if ready {
		t.status = StatusPending
		metrics.SetFormationProbeState(string(StatusPending), allStatuses...)
		snap = t.snapshotLocked()
		listeners = append([]Listener(nil), t.listeners...)
	}
	t.mu.Unlock()

	if ready {
		notify(listeners, snap)
		t.scheduleProbe(ctx, sessionIDOrCurrent(t, sessionID))
	}
	return nil
}

func sessionIDOrCurrent(t *Tracker, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// HandleSessionStatus transitions ready -> live once the session goes
// green, per §4.8's last rule.
func (t *Tracker) HandleSessionStatus(payload json.RawMessage) error {
	status, err := normalize.ParseSessionStatus(payload)
	if err != nil {
		return err
	}
	if status != normalize.SessionStatusStarted {
		return nil
	}

	t.mu.Lock()
	if t.status != StatusReady {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusLive
	metrics.SetFormationProbeState(string(StatusLive), allStatuses...)
	snap := t.snapshotLocked()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// scheduleProbe starts the background probe loop: it sleeps until 60s
// before the scheduled start, then attempts up to 3 times, 20s apart.
func (t *Tracker) scheduleProbe(ctx context.Context, sessionID string) {
	t.mu.Lock()
	if t.cancelProbe != nil {
		t.mu.Unlock()
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)
	t.cancelProbe = cancel
	scheduledStart := t.scheduledStartUTC
	t.mu.Unlock()

	go t.runProbe(probeCtx, sessionID, scheduledStart)
}

func (t *Tracker) runProbe(ctx context.Context, sessionID string, scheduledStart time.Time) {
	logger := log.WithComponent("formation")

	delay := scheduledStart.Add(-preWindow).Sub(t.now())
	if delay > 0 {
		if !t.sleep(ctx, delay) {
			return
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !t.sessionStillCurrent(sessionID) || ctx.Err() != nil {
			return
		}
		if t.attemptProbe(ctx, sessionID, scheduledStart) {
			return
		}
		if attempt < maxAttempts-1 {
			if !t.sleep(ctx, retryDelay) {
				return
			}
		}
	}

	t.mu.Lock()
	if t.status == StatusPending {
		t.status = StatusUnavailable
		metrics.SetFormationProbeState(string(StatusUnavailable), allStatuses...)
		snap := t.snapshotLocked()
		listeners := append([]Listener(nil), t.listeners...)
		t.mu.Unlock()
		notify(listeners, snap)
		logger.Warn().Str("session", sessionID).Msg("formation: probe exhausted all attempts")
		return
	}
	t.mu.Unlock()
}

func (t *Tracker) attemptProbe(ctx context.Context, sessionID string, target time.Time) bool {
	t.mu.Lock()
	path := t.path
	t.mu.Unlock()
	if path == "" {
		return false
	}

	url := buildStaticURL(t.staticBase, path, carDataResource)
	outcome := probeCarData(ctx, t.httpClient, url, target)

	t.mu.Lock()
	if !t.sessionStillCurrentLocked(sessionID) {
		t.mu.Unlock()
		return false
	}
	if !outcome.found {
		t.lastError = outcome.errCode
		t.mu.Unlock()
		return false
	}

	t.formationStartUTC = outcome.bestUTC
	t.deltaSeconds = outcome.bestDelta.Seconds()
	t.hasDelta = true
	t.status = StatusReady
	t.source = "cardata"
	t.lastError = ""
	metrics.SetFormationProbeState(string(StatusReady), allStatuses...)
	snap := t.snapshotLocked()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	notify(listeners, snap)
	return true
}

func (t *Tracker) sessionStillCurrent(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionStillCurrentLocked(sessionID)
}

func (t *Tracker) sessionStillCurrentLocked(sessionID string) bool {
	return sessionID == "" || sessionID == t.sessionID
}

func (t *Tracker) defaultSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}
