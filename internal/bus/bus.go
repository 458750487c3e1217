// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus implements the Live Bus (C3): a pluggable transport driver
// that reconnects with back-off, tracks heartbeat/activity, and fans
// TransportEvents out to per-stream subscribers with per-stream FIFO
// ordering, adapted from the teacher's in-memory pub/sub bus.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/metrics"
)

// TransportEvent is one payload delivered on a stream (§3).
type TransportEvent struct {
	Stream  string
	Payload []byte
}

// Transport is implemented by both the SignalR transport (C4) and the
// Replay transport (C5), per §4.4.
type Transport interface {
	EnsureConnection(ctx context.Context) error
	Messages() <-chan TransportEvent
	Close() error
	// ExpectsHeartbeat reports whether the Bus should enforce the 60s
	// heartbeat staleness close for this transport (SignalR: yes, Replay: no).
	ExpectsHeartbeat() bool
}

// TransportFactory builds a fresh Transport for each reconnect attempt.
type TransportFactory func() (Transport, error)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 60 * time.Second
	heartbeatStale = 60 * time.Second
)

// Bus is the Live Bus: it owns exactly one active transport at a time and
// fans its events out to per-stream subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan TransportEvent

	factoryMu sync.Mutex
	factory   TransportFactory

	activeMu   sync.Mutex
	active     Transport
	swapSignal chan struct{}

	hbMu          sync.Mutex
	lastHeartbeat time.Time
	lastActivity  map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Bus with no factory set; call SwapTransport to arm it.
func New() *Bus {
	return &Bus{
		subs:         make(map[string][]chan TransportEvent),
		lastActivity: make(map[string]time.Time),
	}
}

// Subscriber is returned by Subscribe; call Unsubscribe to detach.
type Subscriber struct {
	b      *Bus
	stream string
	ch     chan TransportEvent
}

// C returns the subscriber's event channel, closed on Unsubscribe.
func (s *Subscriber) C() <-chan TransportEvent { return s.ch }

// Unsubscribe detaches the subscriber and closes its channel.
func (s *Subscriber) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	list := s.b.subs[s.stream]
	out := list[:0]
	for _, c := range list {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.stream)
	} else {
		s.b.subs[s.stream] = out
	}
	close(s.ch)
}

// Subscribe registers for one stream's events, delivered in arrival order
// per-stream (§4.3: "no ordering guarantee between distinct streams").
func (b *Bus) Subscribe(stream string) *Subscriber {
	ch := make(chan TransportEvent, 256)
	b.mu.Lock()
	b.subs[stream] = append(b.subs[stream], ch)
	b.mu.Unlock()
	return &Subscriber{b: b, stream: stream, ch: ch}
}

// InjectMessage delivers a synthesized payload synchronously to
// subscribers, used for Replay initial-state injection and testing.
func (b *Bus) InjectMessage(stream string, payload []byte) {
	b.dispatch(TransportEvent{Stream: stream, Payload: payload})
}

func (b *Bus) dispatch(ev TransportEvent) {
	b.mu.RLock()
	chs := append([]chan TransportEvent(nil), b.subs[ev.Stream]...)
	b.mu.RUnlock()

	metrics.BusMessagesTotal.WithLabelValues(ev.Stream).Inc()
	b.recordActivity(ev.Stream)

	for _, ch := range chs {
		select {
		case ch <- ev:
		default:
			metrics.IncBusDropped(ev.Stream, "subscriber_slow")
		}
	}
}

func (b *Bus) recordActivity(stream string) {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()
	b.lastActivity[stream] = time.Now()
}

func (b *Bus) recordHeartbeat() {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()
	b.lastHeartbeat = time.Now()
}

// LastStreamActivityAge returns the minimum age across the named streams,
// or overall (across every stream ever seen) if streams is empty.
func (b *Bus) LastStreamActivityAge(streams ...string) time.Duration {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()

	now := time.Now()
	if len(streams) == 0 {
		var min time.Duration = -1
		for _, ts := range b.lastActivity {
			age := now.Sub(ts)
			if min < 0 || age < min {
				min = age
			}
		}
		if min < 0 {
			return time.Duration(0)
		}
		return min
	}

	var min time.Duration = -1
	for _, s := range streams {
		ts, ok := b.lastActivity[s]
		if !ok {
			continue
		}
		age := now.Sub(ts)
		if min < 0 || age < min {
			min = age
		}
	}
	if min < 0 {
		return time.Duration(0)
	}
	return min
}

// LastHeartbeatAge returns the time since the last recorded heartbeat.
func (b *Bus) LastHeartbeatAge() time.Duration {
	b.hbMu.Lock()
	defer b.hbMu.Unlock()
	if b.lastHeartbeat.IsZero() {
		return time.Duration(0)
	}
	return time.Since(b.lastHeartbeat)
}

// SwapTransport atomically replaces the factory and closes the current
// transport; the reconnect loop produces the replacement on its next
// iteration (§4.3).
func (b *Bus) SwapTransport(factory TransportFactory) {
	b.factoryMu.Lock()
	b.factory = factory
	b.factoryMu.Unlock()

	b.activeMu.Lock()
	if b.active != nil {
		_ = b.active.Close()
		b.active = nil
	}
	if b.swapSignal != nil {
		close(b.swapSignal)
		b.swapSignal = nil
	}
	b.activeMu.Unlock()
}

func (b *Bus) currentFactory() TransportFactory {
	b.factoryMu.Lock()
	defer b.factoryMu.Unlock()
	return b.factory
}

// CurrentFactory returns the factory in effect before a caller swaps one
// in, so it can be restored later (the ReplayController's "original
// transport factory" bookkeeping, §6).
func (b *Bus) CurrentFactory() TransportFactory {
	return b.currentFactory()
}

// Run starts the supervision loop and blocks until ctx is canceled or the
// factory is unset (e.g. replay completion), per §4.3's pseudocode.
func (b *Bus) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	defer close(b.done)

	logger := log.WithComponentFromContext(ctx, "bus")
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		factory := b.currentFactory()
		if factory == nil {
			return
		}

		metrics.BusReconnectsTotal.Inc()
		transport, err := factory()
		if err != nil {
			logger.Warn().Err(err).Msg("bus: transport factory failed")
			if !b.sleepBackoff(ctx, bo) {
				return
			}
			continue
		}

		if err := transport.EnsureConnection(ctx); err != nil {
			logger.Warn().Err(err).Msg("bus: ensure_connection failed")
			_ = transport.Close()
			if !b.sleepBackoff(ctx, bo) {
				return
			}
			continue
		}

		signal := make(chan struct{})
		b.activeMu.Lock()
		b.active = transport
		b.swapSignal = signal
		b.activeMu.Unlock()

		bo.Reset()
		metrics.BusBackoffSeconds.Set(0)
		b.drain(ctx, transport, signal)

		b.activeMu.Lock()
		if b.active == transport {
			b.active = nil
			b.swapSignal = nil
		}
		b.activeMu.Unlock()
		_ = transport.Close()

		select {
		case <-ctx.Done():
			return
		case <-signal:
			// Swapped out: build the replacement without backing off.
			continue
		default:
		}
		if !b.sleepBackoff(ctx, bo) {
			return
		}
	}
}

// drain pumps transport.Messages() into dispatch until the channel closes,
// ctx is canceled, or signal fires (SwapTransport abandoning this
// generation), enforcing the heartbeat-staleness close rule.
func (b *Bus) drain(ctx context.Context, transport Transport, signal <-chan struct{}) {
	staleTicker := time.NewTicker(10 * time.Second)
	defer staleTicker.Stop()

	msgs := transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
			return
		case ev, ok := <-msgs:
			if !ok {
				return
			}
			if ev.Stream == "Heartbeat" {
				b.recordHeartbeat()
			}
			b.dispatch(ev)
		case <-staleTicker.C:
			if transport.ExpectsHeartbeat() && b.LastHeartbeatAge() > heartbeatStale {
				return
			}
		}
	}
}

func (b *Bus) sleepBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	metrics.BusBackoffSeconds.Set(d.Seconds())
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop cancels the supervision loop and waits for it to exit.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}
