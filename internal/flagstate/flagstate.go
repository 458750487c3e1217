// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package flagstate implements the Flag/Safety-Car State Machine (C7): it
// aggregates TrackStatus and RaceControlMessages events into the
// canonical derived flag state described in §4.6, with precedence
// Red > SC > VSC > Yellow > Green and a 500ms Green<->Yellow debounce.
package flagstate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/metrics"
	"github.com/f1/livetiming/internal/normalize"
)

// VSCMode is the safety-car deployment mode.
type VSCMode string

const (
	VSCNone VSCMode = ""
	VSCFull VSCMode = "SC"
	VSCVirt VSCMode = "VSC"
)

// Derived is the canonical derived flag state, precedence Red > SC > VSC >
// Yellow > Green.
type Derived string

const (
	DerivedGreen     Derived = "Green"
	DerivedYellow    Derived = "Yellow"
	DerivedVSC       Derived = "VSC"
	DerivedSC        Derived = "SC"
	DerivedRed       Derived = "Red"
	DerivedChequered Derived = "Chequered"
)

var allDerived = []string{
	string(DerivedGreen), string(DerivedYellow), string(DerivedVSC),
	string(DerivedSC), string(DerivedRed), string(DerivedChequered),
}

// debounceDelay is the Green<->Yellow toggle coalescing window (§4.6).
const debounceDelay = 500 * time.Millisecond

// State is an immutable snapshot of the flag/safety-car machine.
type State struct {
	TrackFlag           normalize.Flag
	VSCMode             VSCMode
	ActiveYellowSectors map[int]struct{}
	Derived             Derived
}

// IsSafetyCar reports the §4.6 "Safety-Car binary": derived ∈ {SC, VSC}.
func (s State) IsSafetyCar() bool {
	return s.Derived == DerivedSC || s.Derived == DerivedVSC
}

// Listener receives every committed state change (after debounce, if any).
type Listener func(State)

// Machine owns the flag state exclusively; all mutation is serialized by
// its mutex.
type Machine struct {
	mu       sync.RWMutex
	track    normalize.Flag
	vsc      VSCMode
	yellows  map[int]struct{}
	derived  Derived

	listeners []Listener

	pendingCancel context.CancelFunc
}

// New builds a Machine in the Green state with no active yellows.
func New() *Machine {
	m := &Machine{
		yellows: make(map[int]struct{}),
		derived: DerivedGreen,
	}
	metrics.SetFlagDerivedState(string(DerivedGreen), allDerived...)
	return m
}

// Subscribe registers a listener invoked on every committed transition.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Snapshot returns the current immutable state.
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	ys := make(map[int]struct{}, len(m.yellows))
	for k := range m.yellows {
		ys[k] = struct{}{}
	}
	return State{
		TrackFlag:           m.track,
		VSCMode:             m.vsc,
		ActiveYellowSectors: ys,
		Derived:             m.derived,
	}
}

// ApplyRaceControlMsg folds one normalized RaceControlMsg into the state,
// per the transition table in §4.6.
func (m *Machine) ApplyRaceControlMsg(ctx context.Context, rc normalize.RaceControlMsg) {
	switch {
	case rc.Category == normalize.CategorySafetyCar:
		m.applySafetyCar(ctx, rc)
	case rc.Category == normalize.CategoryFlag && rc.Scope == normalize.ScopeTrack:
		m.applyTrackFlag(ctx, rc.Flag)
	case rc.Category == normalize.CategoryFlag && rc.Scope == normalize.ScopeSector:
		m.applySectorFlag(ctx, rc.Flag, rc.Sector)
	}
}

func (m *Machine) applySafetyCar(ctx context.Context, rc normalize.RaceControlMsg) {
	msg := strings.ToUpper(rc.Message)
	switch {
	case strings.Contains(msg, "DEPLOYED"):
		mode := VSCFull
		if strings.Contains(msg, "VIRTUAL") {
			mode = VSCVirt
		}
		m.mutate(ctx, func() { m.vsc = mode })
	case strings.Contains(msg, "ENDING"), strings.Contains(msg, "WITHDRAWN"), strings.Contains(msg, "IN THIS LAP"):
		m.mutate(ctx, func() { m.vsc = VSCNone })
	}
}

func (m *Machine) applyTrackFlag(ctx context.Context, f normalize.Flag) {
	switch f {
	case normalize.FlagGreen, normalize.FlagRed, normalize.FlagChequered:
		m.mutate(ctx, func() {
			m.track = f
			m.yellows = make(map[int]struct{})
		})
	case normalize.FlagClear:
		m.mutate(ctx, func() {
			m.track = normalize.FlagNone
			m.yellows = make(map[int]struct{})
		})
	}
}

func (m *Machine) applySectorFlag(ctx context.Context, f normalize.Flag, sector int) {
	switch f {
	case normalize.FlagYellow, normalize.FlagDoubleYellow:
		m.mutate(ctx, func() { m.yellows[sector] = struct{}{} })
	case normalize.FlagClear:
		m.mutate(ctx, func() { delete(m.yellows, sector) })
	}
}

// ApplyTrackStatus folds a merged TrackStatus snapshot into the state.
// A TrackStatus "Green"/"AllClear" fully clears the state, per §4.6.
func (m *Machine) ApplyTrackStatus(ctx context.Context, ts normalize.TrackStatusState) {
	switch ts.Code {
	case normalize.TrackStatusClear:
		m.mutate(ctx, func() {
			m.track = normalize.FlagNone
			m.vsc = VSCNone
			m.yellows = make(map[int]struct{})
		})
	case normalize.TrackStatusYellow:
		m.mutate(ctx, func() { m.track = normalize.FlagYellow })
	case normalize.TrackStatusRed:
		m.mutate(ctx, func() { m.track = normalize.FlagRed })
	case normalize.TrackStatusSC:
		m.mutate(ctx, func() { m.vsc = VSCFull })
	case normalize.TrackStatusVSC:
		m.mutate(ctx, func() { m.vsc = VSCVirt })
	case normalize.TrackStatusVSCEnding:
		m.mutate(ctx, func() { m.vsc = VSCNone })
	}
}

// mutate applies fn under lock, recomputes derived, and schedules or
// cancels the Green<->Yellow debounce.
func (m *Machine) mutate(ctx context.Context, fn func()) {
	m.mu.Lock()
	fn()
	next := recompute(m.track, m.vsc, m.yellows)
	prev := m.derived

	if next == prev {
		m.mu.Unlock()
		return
	}

	if isGreenYellowToggle(prev, next) {
		if m.pendingCancel != nil {
			m.pendingCancel()
		}
		debounceCtx, cancel := context.WithCancel(ctx)
		m.pendingCancel = cancel
		m.mu.Unlock()

		go m.commitAfterDebounce(debounceCtx, next)
		return
	}

	m.commitLocked(next)
	m.mu.Unlock()
}

func (m *Machine) commitAfterDebounce(ctx context.Context, want Derived) {
	timer := time.NewTimer(debounceDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	current := recompute(m.track, m.vsc, m.yellows)
	if current != want {
		m.mu.Unlock()
		return
	}
	m.commitLocked(want)
	m.mu.Unlock()
}

// commitLocked must be called with mu held.
func (m *Machine) commitLocked(next Derived) {
	m.derived = next
	metrics.SetFlagDerivedState(string(next), allDerived...)
	snap := m.snapshotLocked()
	listeners := append([]Listener(nil), m.listeners...)
	go func() {
		for _, l := range listeners {
			l(snap)
		}
	}()
}

func recompute(track normalize.Flag, vsc VSCMode, yellows map[int]struct{}) Derived {
	switch track {
	case normalize.FlagRed:
		return DerivedRed
	case normalize.FlagChequered:
		return DerivedChequered
	}
	switch vsc {
	case VSCFull:
		return DerivedSC
	case VSCVirt:
		return DerivedVSC
	}
	if len(yellows) > 0 || track == normalize.FlagYellow {
		return DerivedYellow
	}
	return DerivedGreen
}

func isGreenYellowToggle(a, b Derived) bool {
	set := map[Derived]bool{DerivedGreen: true, DerivedYellow: true}
	return set[a] && set[b]
}
