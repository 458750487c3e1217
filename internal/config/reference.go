// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/f1/livetiming/internal/log"
	"github.com/fsnotify/fsnotify"
)

// ReferenceSource is the shared collaborator named in §9's re-architecture
// notes: both Calibration (C10) and Replay (C5) ask it which reference
// ("session" or "formation") gates their respective timers, instead of each
// owning a cyclic handle onto the other.
type ReferenceSource interface {
	LiveDelayReference() ReferenceMode
	ReplayStartReference() ReferenceMode
}

type referenceDoc struct {
	Reference ReferenceMode `json:"reference"`
}

// ReferenceStore is a ReferenceSource backed by the two on-disk files named
// in §6's Persisted state layout. It watches them with fsnotify so an
// operator tool can flip a reference without restarting the daemon, the
// way the teacher's internal/config hot-reload watches its config file.
type ReferenceStore struct {
	liveDelayPath   string
	replayStartPath string

	mu          sync.RWMutex
	liveDelay   ReferenceMode
	replayStart ReferenceMode

	watcher *fsnotify.Watcher
	closed  atomic.Bool
}

// NewReferenceStore seeds the store from defaults, then loads whatever is
// already on disk under dataDir.
func NewReferenceStore(dataDir string, defaults AppConfig) (*ReferenceStore, error) {
	s := &ReferenceStore{
		liveDelayPath:   filepath.Join(dataDir, "live_delay_reference.json"),
		replayStartPath: filepath.Join(dataDir, "replay_start_reference.json"),
		liveDelay:       defaults.LiveDelayReference,
		replayStart:     defaults.ReplayStartReference,
	}
	s.reloadLiveDelay()
	s.reloadReplayStart()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reference store watcher: %w", err)
	}
	if err := w.Add(dataDir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch reference dir %s: %w", dataDir, err)
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

func (s *ReferenceStore) watchLoop() {
	logger := log.WithComponent("reference-store")
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			switch ev.Name {
			case s.liveDelayPath:
				s.reloadLiveDelay()
			case s.replayStartPath:
				s.reloadReplayStart()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("reference store watch error")
		}
	}
}

func (s *ReferenceStore) reloadLiveDelay() {
	if ref, ok := readReferenceFile(s.liveDelayPath); ok {
		s.mu.Lock()
		s.liveDelay = ref
		s.mu.Unlock()
	}
}

func (s *ReferenceStore) reloadReplayStart() {
	if ref, ok := readReferenceFile(s.replayStartPath); ok {
		s.mu.Lock()
		s.replayStart = ref
		s.mu.Unlock()
	}
}

func readReferenceFile(path string) (ReferenceMode, bool) {
	data, err := os.ReadFile(path) // #nosec G304 -- fixed, daemon-owned paths
	if err != nil {
		return "", false
	}
	var doc referenceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", false
	}
	switch doc.Reference {
	case ReferenceSession, ReferenceFormation:
		return doc.Reference, true
	default:
		return "", false
	}
}

// LiveDelayReference implements ReferenceSource.
func (s *ReferenceStore) LiveDelayReference() ReferenceMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveDelay
}

// ReplayStartReference implements ReferenceSource.
func (s *ReferenceStore) ReplayStartReference() ReferenceMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replayStart
}

// SetLiveDelayReference persists a new reference choice and updates the
// in-memory value immediately (the watcher would otherwise race the write).
func (s *ReferenceStore) SetLiveDelayReference(ref ReferenceMode) error {
	if err := writeReferenceFile(s.liveDelayPath, ref); err != nil {
		return err
	}
	s.mu.Lock()
	s.liveDelay = ref
	s.mu.Unlock()
	return nil
}

// SetReplayStartReference persists a new reference choice and updates the
// in-memory value immediately.
func (s *ReferenceStore) SetReplayStartReference(ref ReferenceMode) error {
	if err := writeReferenceFile(s.replayStartPath, ref); err != nil {
		return err
	}
	s.mu.Lock()
	s.replayStart = ref
	s.mu.Unlock()
	return nil
}

func writeReferenceFile(path string, ref ReferenceMode) error {
	data, err := json.Marshal(referenceDoc{Reference: ref})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Close stops the watcher goroutine.
func (s *ReferenceStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		return s.watcher.Close()
	}
	return nil
}
