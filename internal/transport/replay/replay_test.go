// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/replaystore"
)

func testIndex() *replaystore.ReplayIndex {
	return &replaystore.ReplayIndex{
		Index: replaystore.Index{SessionStartedAtMs: 1000},
		Frames: []replaystore.Frame{
			{Stream: "TrackStatus", TimestampMs: 500, Payload: json.RawMessage(`{"Status":"1"}`)},
			{Stream: "SessionStatus", TimestampMs: 1000, Payload: json.RawMessage(`{"Status":"Started"}`)},
			{Stream: "TimingData", TimestampMs: 1100, Payload: json.RawMessage(`{"Lines":{}}`)},
			{Stream: "TimingData", TimestampMs: 1200, Payload: json.RawMessage(`{"Lines":{"1":{}}}`)},
		},
	}
}

func TestTransport_SkipsFramesBeforeStartOffset(t *testing.T) {
	tr := New(testIndex(), 10, StartSession, 0)
	tr.sleep = func(ctx context.Context, d time.Duration) bool { return true }

	require.NoError(t, tr.EnsureConnection(context.Background()))

	var streams []string
	for ev := range tr.Messages() {
		streams = append(streams, ev.Stream)
	}
	assert.Equal(t, []string{"SessionStatus", "TimingData", "TimingData"}, streams)
}

func TestTransport_ClampsSpeedMultiplier(t *testing.T) {
	tooSlow := New(testIndex(), 0.01, StartSession, 0)
	assert.Equal(t, minSpeed, tooSlow.speed)

	tooFast := New(testIndex(), 50, StartSession, 0)
	assert.Equal(t, maxSpeed, tooFast.speed)
}

func TestTransport_FormationStartOffset(t *testing.T) {
	tr := New(testIndex(), 10, StartFormation, 1100)
	assert.Equal(t, int64(1100), tr.SessionStartOffsetMs())
}

func TestTransport_PauseBlocksDelivery(t *testing.T) {
	tr := New(testIndex(), 10, StartSession, 0)
	tr.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	tr.Pause()

	require.NoError(t, tr.EnsureConnection(context.Background()))

	select {
	case <-tr.Messages():
		require.Fail(t, "expected no events while paused")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Resume()
	select {
	case ev := <-tr.Messages():
		assert.Equal(t, "SessionStatus", ev.Stream)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for event after resume")
	}
}

func TestTransport_CloseStopsPlaybackPermanently(t *testing.T) {
	tr := New(testIndex(), 10, StartSession, 0)
	tr.sleep = func(ctx context.Context, d time.Duration) bool { return true }
	require.NoError(t, tr.Close())
	require.NoError(t, tr.EnsureConnection(context.Background()))

	_, ok := <-tr.Messages()
	assert.False(t, ok, "closed transport must yield no events")
}

func TestTransport_ExpectsHeartbeatIsFalse(t *testing.T) {
	tr := New(testIndex(), 1, StartSession, 0)
	assert.False(t, tr.ExpectsHeartbeat())
}

func TestTransport_DurationMsMatchesLastFrame(t *testing.T) {
	tr := New(testIndex(), 1, StartSession, 0)
	assert.Equal(t, int64(1200), tr.DurationMs())
}
