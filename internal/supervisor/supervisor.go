// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/fsm"
	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/metrics"
	"github.com/f1/livetiming/internal/normalize"
	"github.com/f1/livetiming/internal/schedule"
)

var transitions = []fsm.Transition[State, Event]{
	{From: StateIdle, Event: eventNoWindow, To: StateIdle},
	{From: StateIdle, Event: eventWindowPending, To: StateWaiting},
	{From: StateWaiting, Event: eventNoWindow, To: StateIdle},
	{From: StateWaiting, Event: eventWindowPending, To: StateWaiting},
	{From: StateIdle, Event: eventConnectReached, To: StateArmed},
	{From: StateWaiting, Event: eventConnectReached, To: StateArmed},
	{From: StateArmed, Event: eventWindowClosed, To: StateClosed},
	{From: StateClosed, Event: eventReset, To: StateIdle},
}

// Supervisor is the Live Supervisor (C2): §4.2.
type Supervisor struct {
	index    schedule.Source
	fallback schedule.Source

	bus              *bus.Bus
	transportFactory bus.TransportFactory
	availability     *availability.Tracker

	httpClient *http.Client
	staticBase string

	preWindow, postWindow                 time.Duration
	idleRefresh, activeRefresh            time.Duration
	primaryRecoveryCheckInterval          time.Duration

	machine *fsm.Machine[State, Event]

	mu                sync.Mutex
	currentWindow     *schedule.SessionWindow
	currentSource     string
	scheduleSource    string
	fallbackActive    bool
	indexHTTPStatus   int
	lastScheduleError string
	listeners         []Listener

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithFallbackSource installs the secondary (event-tracker) provider.
func WithFallbackSource(src schedule.Source) Option {
	return func(s *Supervisor) { s.fallback = src }
}

// WithHTTPClient overrides the client used for archive-metadata probes.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Supervisor) { s.httpClient = client }
}

// WithPreWindow/WithPostWindow override the connect/disconnect margins.
func WithPreWindow(d time.Duration) Option  { return func(s *Supervisor) { s.preWindow = d } }
func WithPostWindow(d time.Duration) Option { return func(s *Supervisor) { s.postWindow = d } }

// WithIdleRefresh/WithActiveRefresh override the poll cadence (§4.2's
// "15 min when idle, 20s when armed", also fed by config.FastPollSeconds).
func WithIdleRefresh(d time.Duration) Option   { return func(s *Supervisor) { s.idleRefresh = d } }
func WithActiveRefresh(d time.Duration) Option { return func(s *Supervisor) { s.activeRefresh = d } }

// WithPrimaryRecoveryCheckInterval overrides how often an event-tracker
// activation re-probes the primary index source for recovery (§4.1 item 4).
func WithPrimaryRecoveryCheckInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.primaryRecoveryCheckInterval = d }
}

// WithNow/WithSleep are the deterministic-test DI seam used throughout this
// codebase (internal/transport/replay, internal/formation, internal/calibration).
func WithNow(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(s *Supervisor) { s.sleep = sleep }
}

// New builds a Supervisor. staticBase is the archive root (e.g.
// "https://livetiming.formula1.com/static") used for metadata priming and
// the session-active/session-status probes.
func New(index schedule.Source, liveBus *bus.Bus, transportFactory bus.TransportFactory, tracker *availability.Tracker, staticBase string, opts ...Option) *Supervisor {
	machine, err := fsm.New(StateIdle, transitions)
	if err != nil {
		panic(err)
	}
	s := &Supervisor{
		index:                        index,
		bus:                          liveBus,
		transportFactory:             transportFactory,
		availability:                 tracker,
		httpClient:                   &http.Client{Timeout: 10 * time.Second},
		staticBase:                   strings.TrimSuffix(staticBase, "/"),
		preWindow:                    defaultPreWindow,
		postWindow:                   defaultPostWindow,
		idleRefresh:                  idleRefresh,
		activeRefresh:                activeRefresh,
		primaryRecoveryCheckInterval: primaryRecoveryCheckInterval,
		machine:                      machine,
		scheduleSource:               schedule.SourceNone,
		now:                          time.Now,
		sleep:                        defaultSleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Subscribe registers l for every state change, invoking it immediately
// with the current snapshot.
func (s *Supervisor) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	l(snap)
}

// Snapshot returns the current status.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:             s.machine.State(),
		WindowSource:      s.currentSource,
		ScheduleSource:    s.scheduleSource,
		FallbackActive:    s.fallbackActive,
		IndexHTTPStatus:   s.indexHTTPStatus,
		LastScheduleError: s.lastScheduleError,
	}
	if s.currentWindow != nil {
		w := *s.currentWindow
		snap.Window = &w
	}
	return snap
}

func (s *Supervisor) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	metrics.SupervisorState.Set(stateOrdinal(snap.State))
	for _, l := range listeners {
		l(snap)
	}
}

func stateOrdinal(state State) float64 {
	switch state {
	case StateIdle:
		return 0
	case StateWaiting:
		return 1
	case StateArmed:
		return 2
	case StateClosed:
		return 3
	default:
		return -1
	}
}

func (s *Supervisor) fire(ctx context.Context, event Event) {
	if _, err := s.machine.Fire(ctx, event); err != nil {
		log.L().Warn().Err(err).Str("event", string(event)).Msg("supervisor: invalid transition")
		return
	}
	s.notify()
}

// Run drives the state machine until ctx is canceled (§4.2's runner task).
func (s *Supervisor) Run(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "supervisor")
	for {
		if ctx.Err() != nil {
			return
		}
		window, source, ok := s.resolveWindow(ctx)
		if !ok {
			s.fire(ctx, eventNoWindow)
			_ = s.availability.SetState(false, "no-session-found")
			if !s.sleep(ctx, s.idleRefresh) {
				return
			}
			continue
		}

		now := s.now()
		if now.Before(window.ConnectAt) {
			s.fire(ctx, eventWindowPending)
			_ = s.availability.SetState(false, "waiting-"+window.SessionName)
			wait := window.ConnectAt.Sub(now)
			if wait > s.idleRefresh {
				wait = s.idleRefresh
			}
			if wait < 30*time.Second {
				wait = 30 * time.Second
			}
			if !s.sleep(ctx, wait) {
				return
			}
			continue
		}

		s.fire(ctx, eventConnectReached)
		logger.Info().Str("window", window.Label()).Str("source", source).
			Time("connect_at", window.ConnectAt).Time("disconnect_at", window.DisconnectAt).
			Msg("arming live timing")
		reason := s.activateWindow(ctx, window, source)
		logger.Info().Str("window", window.Label()).Str("reason", reason).Msg("live timing closed")
		s.fire(ctx, eventWindowClosed)
		s.fire(ctx, eventReset)
	}
}

func (s *Supervisor) activateWindow(ctx context.Context, window schedule.SessionWindow, source string) string {
	s.mu.Lock()
	w := window
	s.currentWindow = &w
	s.currentSource = source
	s.mu.Unlock()
	s.notify()

	_ = s.availability.SetState(true, "live-"+window.SessionName)
	s.bus.SwapTransport(s.transportFactory)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		s.bus.Run(runCtx)
		close(done)
	}()

	sub := s.bus.Subscribe("SessionStatus")

	if window.Path != "" {
		s.primeMetadata(ctx, window)
	}

	reason := s.monitorWindow(ctx, window, source, sub)

	sub.Unsubscribe()
	cancel()
	<-done
	s.bus.SwapTransport(nil)

	_ = s.availability.SetState(false, "finished-"+window.SessionName)
	s.mu.Lock()
	s.currentWindow = nil
	s.currentSource = ""
	s.mu.Unlock()
	s.notify()

	return reason
}

func (s *Supervisor) monitorWindow(ctx context.Context, window schedule.SessionWindow, source string, sub *bus.Subscriber) string {
	maxDisconnectAt := window.DisconnectAt
	if source == schedule.SourceIndex {
		maxDisconnectAt = window.DisconnectAt.Add(postWindowExtensionCap)
	}
	var lastPrimaryCheck time.Time

	ticker := time.NewTicker(s.activeRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "stopped"
		case ev, ok := <-sub.C():
			if !ok {
				continue
			}
			status, err := normalize.ParseSessionStatus(ev.Payload)
			if err == nil && sessionEndStates[string(status)] {
				return "session-status-" + strings.ToLower(string(status))
			}
		case <-ticker.C:
			now := s.now()
			hbAge := s.bus.LastHeartbeatAge()
			activityAge := s.bus.LastStreamActivityAge(liveActivityStreams...)

			if !now.Before(window.DisconnectAt) {
				shouldExtend := source == schedule.SourceIndex &&
					window.DisconnectAt.Before(maxDisconnectAt) &&
					(hbAge <= heartbeatDrain || activityAge <= heartbeatDrain)
				if shouldExtend {
					extension := postWindowExtensionStep
					if remaining := maxDisconnectAt.Sub(window.DisconnectAt); remaining < extension {
						extension = remaining
					}
					window.DisconnectAt = window.DisconnectAt.Add(extension)
					continue
				}
				return "disconnect-window-expired"
			}
			if hbAge > heartbeatDrain {
				return fmt.Sprintf("heartbeat-timeout-%.0fs", hbAge.Seconds())
			}
			if source == schedule.SourceEventTracker {
				if now.Sub(lastPrimaryCheck) >= s.primaryRecoveryCheckInterval {
					lastPrimaryCheck = now
					if _, ok := s.resolvePrimaryWindow(ctx); ok {
						return primarySourceRecovered
					}
				}
			}
		}
	}
}

func (s *Supervisor) resolvePrimaryWindow(ctx context.Context) (schedule.SessionWindow, bool) {
	result, err := s.index.FetchWindows(ctx, s.preWindow, s.postWindow, false)
	if err != nil {
		return schedule.SessionWindow{}, false
	}
	return s.selectWindow(ctx, result.Windows, schedule.SourceIndex)
}

func (s *Supervisor) indexUnavailable(result schedule.Result) (bool, string) {
	if result.LastError != "" {
		return true, "index error: " + result.LastError
	}
	if result.HTTPStatus != 0 && result.HTTPStatus != http.StatusOK {
		return true, fmt.Sprintf("index unavailable: HTTP %d", result.HTTPStatus)
	}
	if len(result.Windows) == 0 {
		return true, "index unavailable: no valid session windows"
	}
	return false, "index healthy"
}

func (s *Supervisor) resolveWindow(ctx context.Context) (schedule.SessionWindow, string, bool) {
	primary, err := s.index.FetchWindows(ctx, s.preWindow, s.postWindow, false)
	if err != nil {
		primary = schedule.Result{Source: schedule.SourceIndex, LastError: err.Error()}
	}

	primaryWindow, ok := s.selectWindow(ctx, primary.Windows, schedule.SourceIndex)
	if ok {
		s.setScheduleState(schedule.SourceIndex, false, primary.HTTPStatus, primary.LastError)
		return primaryWindow, schedule.SourceIndex, true
	}

	unavailable, reason := s.indexUnavailable(primary)
	if !unavailable {
		s.setScheduleState(schedule.SourceNone, false, primary.HTTPStatus, primary.LastError)
		return schedule.SessionWindow{}, "", false
	}
	if s.fallback == nil {
		s.setScheduleState(schedule.SourceNone, false, primary.HTTPStatus, primary.LastError)
		return schedule.SessionWindow{}, "", false
	}

	s.mu.Lock()
	active := s.fallbackActive
	s.mu.Unlock()

	fallbackResult, err := s.fallback.FetchWindows(ctx, s.preWindow, s.postWindow, active)
	if err != nil {
		fallbackResult = schedule.Result{Source: schedule.SourceEventTracker, LastError: err.Error()}
	}
	fallbackWindow, ok := s.selectWindow(ctx, fallbackResult.Windows, schedule.SourceEventTracker)
	if ok {
		errMsg := fallbackResult.LastError
		if errMsg == "" {
			errMsg = primary.LastError
		}
		log.L().Info().Str("reason", reason).Msg("supervisor: schedule source selected: event_tracker")
		s.setScheduleState(schedule.SourceEventTracker, true, primary.HTTPStatus, errMsg)
		return fallbackWindow, schedule.SourceEventTracker, true
	}

	errMsg := fallbackResult.LastError
	if errMsg == "" {
		errMsg = primary.LastError
	}
	s.setScheduleState(schedule.SourceNone, false, primary.HTTPStatus, errMsg)
	return schedule.SessionWindow{}, "", false
}

func (s *Supervisor) setScheduleState(source string, fallbackActive bool, httpStatus int, lastErr string) {
	s.mu.Lock()
	prev := s.scheduleSource
	s.scheduleSource = source
	s.fallbackActive = fallbackActive
	s.indexHTTPStatus = httpStatus
	s.lastScheduleError = lastErr
	s.mu.Unlock()

	metrics.SetScheduleSource(source, schedule.SourceIndex, schedule.SourceEventTracker, schedule.SourceNone)
	if prev != source {
		log.L().Info().Str("source", source).Msg("supervisor: schedule source changed")
	}
	s.notify()
}

// selectWindow implements §4.1's selection policy: the earliest window not
// yet past its disconnect_at, or — for the index source only — an extended
// fallback window if the last known session's archive still reports active.
func (s *Supervisor) selectWindow(ctx context.Context, windows []schedule.SessionWindow, source string) (schedule.SessionWindow, bool) {
	if len(windows) == 0 {
		return schedule.SessionWindow{}, false
	}
	now := s.now()
	var upcoming []schedule.SessionWindow
	for _, w := range windows {
		if !now.After(w.DisconnectAt) {
			upcoming = append(upcoming, w)
		}
	}
	if len(upcoming) == 0 {
		last := windows[len(windows)-1]
		if source == schedule.SourceIndex && last.Path != "" && s.sessionActive(ctx, last) {
			extended := last
			grace := now.Add(-5 * time.Minute)
			if grace.Before(extended.ConnectAt) {
				extended.ConnectAt = grace
			}
			extended.DisconnectAt = now.Add(fallbackWindowDuration)
			return extended, true
		}
		return schedule.SessionWindow{}, false
	}
	return upcoming[0], true
}

// sessionActive probes the archive's SessionStatus stream for a window
// whose disconnect_at has already passed, per §4.1 item 5.
func (s *Supervisor) sessionActive(ctx context.Context, window schedule.SessionWindow) bool {
	now := s.now()
	data, err := s.fetchArchiveJSON(ctx, window.Path, "SessionStatus.jsonStream")
	if err != nil {
		return now.Before(window.EndUTC.Add(2 * time.Hour))
	}
	status, _ := data["Status"].(string)
	started, _ := data["Started"].(string)
	if sessionEndStates[strings.TrimSpace(status)] || sessionEndStates[strings.TrimSpace(started)] {
		return false
	}
	return true
}

func (s *Supervisor) primeMetadata(ctx context.Context, window schedule.SessionWindow) {
	for _, resource := range []string{"SessionInfo.jsonStream", "SessionStatus.jsonStream", "SessionData.jsonStream"} {
		if _, err := s.fetchArchiveJSON(ctx, window.Path, resource); err != nil {
			log.L().Debug().Err(err).Str("window", window.Label()).Str("resource", resource).Msg("supervisor: metadata priming failed")
		}
	}
}

func (s *Supervisor) fetchArchiveJSON(ctx context.Context, path, resource string) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := buildStaticURL(s.staticBase, path, resource)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive fetch %s: HTTP %d", resource, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resource, err)
	}
	body = []byte(strings.TrimPrefix(string(body), "﻿"))

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", resource, err)
	}
	return payload, nil
}

func buildStaticURL(staticBase, path, resource string) string {
	return fmt.Sprintf("%s/%s/%s", staticBase, strings.Trim(path, "/"), resource)
}
