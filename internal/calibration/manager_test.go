// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package calibration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/config"
)

type fakeReference struct {
	mode config.ReferenceMode
}

func (f fakeReference) LiveDelayReference() config.ReferenceMode   { return f.mode }
func (f fakeReference) ReplayStartReference() config.ReferenceMode { return config.ReferenceSession }

type fakeDelaySetter struct {
	mu      sync.Mutex
	seconds int
	source  string
	calls   int
}

func (f *fakeDelaySetter) SetDelay(seconds int, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seconds = seconds
	f.source = source
	f.calls++
	return nil
}

func instantSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func TestManager_PrepareSession_StartsOnSessionStatusStarted(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})
	m.sleep = instantSleep
	defer m.Close()

	snap, err := m.Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeWaiting, snap.Mode)

	require.NoError(t, m.HandleSessionStatus(context.Background(), json.RawMessage(`{"Status":"Started"}`)))

	require.Eventually(t, func() bool {
		return m.Snapshot().Mode == ModeRunning
	}, time.Second, time.Millisecond)
}

func TestManager_PrepareFormation_StartsAtFormationStartUTC(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceFormation})
	m.sleep = instantSleep
	defer m.Close()

	_, err := m.Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeWaiting, m.Snapshot().Mode)

	marker := time.Date(2024, 5, 26, 13, 0, 0, 0, time.UTC)
	m.HandleFormationStart(context.Background(), marker)

	require.Eventually(t, func() bool {
		return m.Snapshot().Mode == ModeRunning
	}, time.Second, time.Millisecond)

	snap := m.Snapshot()
	require.NotNil(t, snap.StartedAt)
	assert.True(t, snap.StartedAt.Equal(marker))
}

func TestManager_Complete_ClampsElapsedAndCommits(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})
	m.sleep = instantSleep

	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.Prepare(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.HandleSessionStatus(context.Background(), json.RawMessage(`{"Status":"Started"}`)))
	require.Eventually(t, func() bool { return m.Snapshot().Mode == ModeRunning }, time.Second, time.Millisecond)

	m.mu.Lock()
	m.now = func() time.Time { return base.Add(400 * time.Second) }
	m.mu.Unlock()

	snap, err := m.Complete(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, ModeIdle, snap.Mode)
	require.NotNil(t, snap.LastResult)
	assert.Equal(t, 300, snap.LastResult.Seconds, "elapsed beyond 300s must clamp to the max")

	setter.mu.Lock()
	defer setter.mu.Unlock()
	assert.Equal(t, 300, setter.seconds)
	assert.Equal(t, "calibration", setter.source)
}

func TestManager_Complete_WhenNotRunning_Errors(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})
	m.sleep = instantSleep

	_, err := m.Complete(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManager_RunningTimeout_CancelsAfterDeadline(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession}, WithTimeout(10*time.Millisecond))
	m.sleep = func(ctx context.Context, d time.Duration) bool {
		select {
		case <-time.After(time.Millisecond):
			return true
		case <-ctx.Done():
			return false
		}
	}

	_, err := m.Prepare(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.HandleSessionStatus(context.Background(), json.RawMessage(`{"Status":"Started"}`)))

	require.Eventually(t, func() bool {
		return m.Snapshot().Mode == ModeIdle
	}, time.Second, time.Millisecond, "must cancel back to idle once the running timeout elapses")

	setter.mu.Lock()
	defer setter.mu.Unlock()
	assert.Zero(t, setter.calls, "a timed-out calibration must not commit a delay")
}

func TestManager_Prepare_BlockedByReplay(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession}, WithReplayActiveFunc(func() bool { return true }))
	m.sleep = instantSleep

	_, err := m.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrBlockedByReplay)
	assert.Equal(t, ModeIdle, m.Snapshot().Mode)
}

func TestManager_SessionEnds_CancelsRunningCalibration(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})
	m.sleep = instantSleep

	_, err := m.Prepare(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.HandleSessionStatus(context.Background(), json.RawMessage(`{"Status":"Started"}`)))
	require.Eventually(t, func() bool { return m.Snapshot().Mode == ModeRunning }, time.Second, time.Millisecond)

	require.NoError(t, m.HandleSessionStatus(context.Background(), json.RawMessage(`{"Status":"Finished"}`)))
	assert.Equal(t, ModeIdle, m.Snapshot().Mode)
}

func TestManager_Subscribe_InvokesImmediatelyWithCurrentSnapshot(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})

	var got Snapshot
	m.Subscribe(func(s Snapshot) { got = s })
	assert.Equal(t, ModeIdle, got.Mode)
}

func TestManager_Cancel_ReturnsToIdle(t *testing.T) {
	setter := &fakeDelaySetter{}
	m := New(setter, fakeReference{mode: config.ReferenceSession})
	m.sleep = instantSleep

	_, err := m.Prepare(context.Background())
	require.NoError(t, err)

	snap := m.Cancel("manual")
	assert.Equal(t, ModeIdle, snap.Mode)
}
