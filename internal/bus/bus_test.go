// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	ch        chan TransportEvent
	connected atomic.Bool
	closed    atomic.Bool
	heartbeat bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan TransportEvent, 16), heartbeat: true}
}

func (f *fakeTransport) EnsureConnection(ctx context.Context) error {
	f.connected.Store(true)
	return nil
}

func (f *fakeTransport) Messages() <-chan TransportEvent { return f.ch }

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) ExpectsHeartbeat() bool { return f.heartbeat }

func TestBus_SubscribeReceivesInjectedMessage(t *testing.T) {
	b := New()
	sub := b.Subscribe("TrackStatus")
	defer sub.Unsubscribe()

	b.InjectMessage("TrackStatus", []byte(`{"Status":1}`))

	select {
	case ev := <-sub.C():
		assert.Equal(t, "TrackStatus", ev.Stream)
		assert.JSONEq(t, `{"Status":1}`, string(ev.Payload))
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for injected message")
	}
}

func TestBus_SubscribePerStreamIsolation(t *testing.T) {
	b := New()
	trackSub := b.Subscribe("TrackStatus")
	defer trackSub.Unsubscribe()
	rcSub := b.Subscribe("RaceControlMessages")
	defer rcSub.Unsubscribe()

	b.InjectMessage("TrackStatus", []byte(`{}`))

	select {
	case <-trackSub.C():
	case <-time.After(time.Second):
		require.Fail(t, "expected TrackStatus subscriber to receive message")
	}

	select {
	case <-rcSub.C():
		require.Fail(t, "RaceControlMessages subscriber must not receive TrackStatus messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("Heartbeat")
	sub.Unsubscribe()

	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after Unsubscribe")
}

func TestBus_RunDispatchesTransportMessages(t *testing.T) {
	b := New()
	sub := b.Subscribe("TimingData")
	defer sub.Unsubscribe()

	transport := newFakeTransport()
	b.SwapTransport(func() (Transport, error) { return transport, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool { return transport.connected.Load() }, time.Second, 10*time.Millisecond)

	transport.ch <- TransportEvent{Stream: "TimingData", Payload: []byte(`{"Lines":{}}`)}

	select {
	case ev := <-sub.C():
		assert.Equal(t, "TimingData", ev.Stream)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for dispatched transport message")
	}

	b.Stop()
	assert.True(t, transport.closed.Load())
}

func TestBus_SwapTransportClosesActive(t *testing.T) {
	b := New()
	first := newFakeTransport()
	b.SwapTransport(func() (Transport, error) { return first, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	require.Eventually(t, func() bool { return first.connected.Load() }, time.Second, 10*time.Millisecond)

	second := newFakeTransport()
	b.SwapTransport(func() (Transport, error) { return second, nil })

	require.Eventually(t, func() bool { return second.connected.Load() }, time.Second, 10*time.Millisecond)
	assert.True(t, first.closed.Load())

	b.Stop()
}

func TestBus_LastStreamActivityAge(t *testing.T) {
	b := New()
	assert.Equal(t, time.Duration(0), b.LastStreamActivityAge("Unknown"))

	b.InjectMessage("WeatherData", []byte(`{}`))
	age := b.LastStreamActivityAge("WeatherData")
	assert.Less(t, age, time.Second)
}
