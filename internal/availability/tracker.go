// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package availability implements the LiveAvailability register (C12): a
// single-writer broadcast of {is_live, reason, replay_locked} that every
// other component only ever reads, per §4's "observed by all consumers"
// ordering note.
package availability

import (
	"errors"
	"strings"
	"sync"

	"github.com/f1/livetiming/internal/metrics"
)

// ErrLocked is returned by SetState when replay_locked is true and the
// caller's reason does not begin with "replay" (§5's replay-locked rule).
var ErrLocked = errors.New("availability: locked to replay, reason must begin with \"replay\"")

// Snapshot is the immutable, API-facing state.
type Snapshot struct {
	IsLive       bool
	Reason       string
	ReplayLocked bool
}

// Listener receives every committed snapshot.
type Listener func(Snapshot)

// Tracker is the single writer. The Supervisor and the Replay controller
// are its only callers (§5); every other component subscribes or snapshots.
type Tracker struct {
	mu sync.Mutex

	isLive       bool
	reason       string
	replayLocked bool

	listeners []Listener
}

// New builds an idle tracker.
func New() *Tracker {
	t := &Tracker{reason: "idle"}
	metrics.SetAvailabilityState(false)
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

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{IsLive: t.isLive, Reason: t.reason, ReplayLocked: t.replayLocked}
}

// SetState mutates {is_live, reason}. While replay_locked, only a
// reason beginning with "replay" is accepted (§4's LiveAvailability
// invariant); reason "replay" arms the lock, and any "replay-"-prefixed
// reason (e.g. "replay-stopped", "replay-completed") releases it, mirroring
// the Replay controller's own set_state("replay")/set_state("replay-stopped")
// pairing.
func (t *Tracker) SetState(isLive bool, reason string) error {
	t.mu.Lock()
	if t.replayLocked && !strings.HasPrefix(reason, "replay") {
		t.mu.Unlock()
		return ErrLocked
	}

	t.isLive = isLive
	t.reason = reason
	switch {
	case reason == "replay":
		t.replayLocked = true
	case strings.HasPrefix(reason, "replay-"):
		t.replayLocked = false
	}

	snap := t.snapshotLocked()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	metrics.SetAvailabilityState(snap.IsLive)
	notify(listeners, snap)
	return nil
}

func notify(listeners []Listener, snap Snapshot) {
	for _, l := range listeners {
		l(snap)
	}
}
