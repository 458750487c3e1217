// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f1/livetiming/internal/availability"
	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/schedule"
)

// fakeSource returns a fixed Result on every call, or an injected error.
type fakeSource struct {
	mu      sync.Mutex
	result  schedule.Result
	err     error
	onFetch func()
}

func (f *fakeSource) FetchWindows(ctx context.Context, pre, post time.Duration, active bool) (schedule.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.result, f.err
}

func (f *fakeSource) setResult(r schedule.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

// fakeTransport never produces messages until closed; used to drive Armed
// phases without a real network connection.
type fakeTransport struct {
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport { return &fakeTransport{closed: make(chan struct{})} }

func (t *fakeTransport) EnsureConnection(ctx context.Context) error { return nil }
func (t *fakeTransport) Messages() <-chan bus.TransportEvent        { return make(chan bus.TransportEvent) }
func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
func (t *fakeTransport) ExpectsHeartbeat() bool { return false }

func fakeFactory() bus.TransportFactory {
	return func() (bus.Transport, error) { return newFakeTransport(), nil }
}

func instantSleep(ctx context.Context, d time.Duration) bool {
	return ctx.Err() == nil
}

func TestSupervisor_EventTrackerWindow_ClosesOnDisconnectExpiry(t *testing.T) {
	now := time.Date(2024, 5, 26, 15, 0, 0, 0, time.UTC)
	window := schedule.SessionWindow{
		MeetingName: "Monaco", SessionName: "Race",
		ConnectAt: now.Add(-time.Minute), DisconnectAt: now,
	}
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusServiceUnavailable, LastError: "index down"}}
	fallback := &fakeSource{result: schedule.Result{Source: schedule.SourceEventTracker, Windows: []schedule.SessionWindow{window}}}

	tracker := availability.New()
	liveBus := bus.New()
	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static",
		WithFallbackSource(fallback),
		WithNow(func() time.Time { return now }),
		WithActiveRefresh(5*time.Millisecond),
		WithIdleRefresh(5*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var closeCount int32
	sup.Subscribe(func(snap Snapshot) {
		if snap.State == StateClosed {
			if atomic.AddInt32(&closeCount, 1) == 1 {
				close(done)
			}
		}
	})

	go sup.Run(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Closed state")
	}
	assert.Equal(t, "event_tracker", sup.Snapshot().WindowSource)
}

func TestSupervisor_IndexWindow_ExtendsDisconnectThenCloses(t *testing.T) {
	now := time.Date(2024, 5, 26, 15, 0, 0, 0, time.UTC)
	window := schedule.SessionWindow{
		MeetingName: "Monaco", SessionName: "Race",
		ConnectAt: now.Add(-time.Minute), DisconnectAt: now,
	}
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusOK, Windows: []schedule.SessionWindow{window}}}

	// The clock advances one minute per reading: window selection sees
	// now-1m, arming sees now, and each monitor tick moves a minute on, so
	// the 5-minute extensions run up to the 30-minute cap and then close.
	var clockReads int64
	clock := func() time.Time {
		return now.Add(time.Duration(atomic.AddInt64(&clockReads, 1)-2) * time.Minute)
	}

	tracker := availability.New()
	liveBus := bus.New()
	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static",
		WithNow(clock),
		WithActiveRefresh(2*time.Millisecond),
		WithIdleRefresh(2*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	closed := make(chan struct{})
	sup.Subscribe(func(snap Snapshot) {
		select {
		case <-closed:
			return
		default:
		}
		if snap.State == StateClosed {
			close(closed)
		}
	})

	go sup.Run(ctx)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Closed state after extension cycles")
	}
}

func TestSupervisor_NoWindow_SetsAvailabilityIdle(t *testing.T) {
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex}}
	tracker := availability.New()
	liveBus := bus.New()

	var iterations int32
	gotIdle := make(chan struct{})
	index.onFetch = func() {
		if atomic.AddInt32(&iterations, 1) == 2 {
			close(gotIdle)
		}
	}

	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static",
		WithNow(time.Now),
		WithSleep(instantSleep),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	select {
	case <-gotIdle:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for idle polling")
	}
	cancel()

	assert.False(t, tracker.Snapshot().IsLive)
	assert.Equal(t, "no-session-found", tracker.Snapshot().Reason)
}

func TestSupervisor_WaitsForConnectWindow(t *testing.T) {
	now := time.Date(2024, 5, 26, 10, 0, 0, 0, time.UTC)
	window := schedule.SessionWindow{
		MeetingName: "Monaco", SessionName: "Practice 1",
		ConnectAt: now.Add(time.Hour), DisconnectAt: now.Add(2 * time.Hour),
	}
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusOK, Windows: []schedule.SessionWindow{window}}}
	tracker := availability.New()
	liveBus := bus.New()

	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static",
		WithNow(func() time.Time { return now }),
		WithSleep(instantSleep),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waitingSeen := make(chan struct{})
	var once sync.Once
	sup.Subscribe(func(snap Snapshot) {
		if snap.State == StateWaiting {
			once.Do(func() { close(waitingSeen) })
		}
	})

	go sup.Run(ctx)

	select {
	case <-waitingSeen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Waiting state")
	}
	assert.Equal(t, StateWaiting, sup.Snapshot().State)
}

func TestSupervisor_PrimarySourceRecovery(t *testing.T) {
	now := time.Date(2024, 5, 26, 15, 0, 0, 0, time.UTC)
	window := schedule.SessionWindow{
		MeetingName: "Spa", SessionName: "Qualifying",
		ConnectAt: now.Add(-time.Minute), DisconnectAt: now.Add(time.Hour),
	}
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusServiceUnavailable, LastError: "down"}}
	fallback := &fakeSource{result: schedule.Result{Source: schedule.SourceEventTracker, Windows: []schedule.SessionWindow{window}}}

	// The first index fetch (window resolution) fails; the primary probe
	// made while armed on the fallback window finds the index recovered.
	var indexFetches int32
	index.onFetch = func() {
		if atomic.AddInt32(&indexFetches, 1) > 1 {
			index.result = schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusOK, Windows: []schedule.SessionWindow{window}}
		}
	}

	tracker := availability.New()
	liveBus := bus.New()
	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static",
		WithFallbackSource(fallback),
		WithNow(func() time.Time { return now }),
		WithActiveRefresh(2*time.Millisecond),
		WithPrimaryRecoveryCheckInterval(3*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	closed := make(chan struct{})
	var once sync.Once
	sup.Subscribe(func(snap Snapshot) {
		if snap.State == StateClosed {
			once.Do(func() { close(closed) })
		}
	})

	go sup.Run(ctx)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for recovery-triggered close")
	}
}

func TestSupervisor_SelectWindow_ExtendsLastWindowWhenStillActive(t *testing.T) {
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Status":"Started","Started":"Started"}`))
	}))
	defer archive.Close()

	now := time.Date(2024, 5, 26, 18, 0, 0, 0, time.UTC)
	pastWindow := schedule.SessionWindow{
		MeetingName: "Monaco", SessionName: "Race", Path: "2024/Monaco/Race/",
		ConnectAt: now.Add(-3 * time.Hour), DisconnectAt: now.Add(-time.Hour),
	}
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex, HTTPStatus: http.StatusOK, Windows: []schedule.SessionWindow{pastWindow}}}
	tracker := availability.New()
	liveBus := bus.New()

	sup := New(index, liveBus, fakeFactory(), tracker, archive.URL,
		WithNow(func() time.Time { return now }),
	)

	window, source, ok := sup.resolveWindow(context.Background())
	require.True(t, ok)
	assert.Equal(t, schedule.SourceIndex, source)
	assert.True(t, window.DisconnectAt.After(now))
}

func TestSupervisor_Subscribe_InvokesImmediately(t *testing.T) {
	index := &fakeSource{result: schedule.Result{Source: schedule.SourceIndex}}
	tracker := availability.New()
	liveBus := bus.New()
	sup := New(index, liveBus, fakeFactory(), tracker, "https://example.invalid/static")

	var got Snapshot
	sup.Subscribe(func(snap Snapshot) { got = snap })
	assert.Equal(t, StateIdle, got.State)
}
