// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package signalr implements the SignalR Transport (C4): negotiate,
// WebSocket connect, Subscribe, and feed/snapshot frame parsing against
// the F1 live timing push service, per §4.4 and §6.
package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/f1/livetiming/internal/bus"
	"github.com/f1/livetiming/internal/log"
)

const (
	negotiateURL = "https://livetiming.formula1.com/signalr/negotiate"
	connectURL   = "wss://livetiming.formula1.com/signalr/connect"
	hubData      = `[{"name":"Streaming"}]`

	resubscribeInterval = 5 * time.Minute
)

// DefaultStreams is the full stream set from §3's closed StreamId set.
var DefaultStreams = []string{
	"RaceControlMessages", "TrackStatus", "SessionStatus", "SessionInfo",
	"SessionData", "TimingData", "TimingAppData", "DriverList", "LapCount",
	"WeatherData", "TeamRadio", "CarData", "ExtrapolatedClock", "TopThree",
}

// Transport implements bus.Transport against the live SignalR feed.
type Transport struct {
	httpClient *http.Client
	streams    []string

	mu   sync.Mutex
	conn *websocket.Conn

	events chan bus.TransportEvent
	cancel context.CancelFunc
}

// New builds an unconnected Transport subscribing to streams (defaults to
// DefaultStreams when empty).
func New(httpClient *http.Client, streams []string) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if len(streams) == 0 {
		streams = DefaultStreams
	}
	return &Transport{
		httpClient: httpClient,
		streams:    streams,
		events:     make(chan bus.TransportEvent, 256),
	}
}

type negotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
}

type subscribeFrame struct {
	H string     `json:"H"`
	M string     `json:"M"`
	A [][]string `json:"A"`
	I int        `json:"I"`
}

// EnsureConnection performs negotiate + WebSocket connect + initial
// Subscribe, per §4.4 steps 1-3, and starts the 5-minute re-subscribe
// heartbeat (step 5).
func (t *Transport) EnsureConnection(ctx context.Context) error {
	token, cookie, err := t.negotiate(ctx)
	if err != nil {
		return fmt.Errorf("signalr: negotiate: %w", err)
	}

	conn, err := t.dial(ctx, token, cookie)
	if err != nil {
		return fmt.Errorf("signalr: connect: %w", err)
	}

	if err := t.subscribe(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("signalr: subscribe: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.readLoop(runCtx, conn)
	go t.resubscribeLoop(runCtx, conn)

	return nil
}

func (t *Transport) negotiate(ctx context.Context) (token, cookie string, err error) {
	u, _ := url.Parse(negotiateURL)
	q := u.Query()
	q.Set("clientProtocol", "1.5")
	q.Set("connectionData", hubData)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("negotiate returned status %d", resp.StatusCode)
	}

	var body negotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	return body.ConnectionToken, resp.Header.Get("Set-Cookie"), nil
}

func (t *Transport) dial(ctx context.Context, token, cookie string) (*websocket.Conn, error) {
	u, _ := url.Parse(connectURL)
	q := u.Query()
	q.Set("transport", "webSockets")
	q.Set("clientProtocol", "1.5")
	q.Set("connectionToken", token)
	q.Set("connectionData", hubData)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("User-Agent", "BestHTTP")
	headers.Set("Accept-Encoding", "gzip,identity")
	if cookie != "" {
		headers.Set("Cookie", cookie)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if resp != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func (t *Transport) subscribe(conn *websocket.Conn) error {
	frame := subscribeFrame{H: "Streaming", M: "Subscribe", A: [][]string{t.streams}, I: 1}
	return conn.WriteJSON(frame)
}

func (t *Transport) resubscribeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(resubscribeInterval)
	defer ticker.Stop()
	logger := log.WithComponentFromContext(ctx, "signalr")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.subscribe(conn); err != nil {
				logger.Warn().Err(err).Msg("signalr: re-subscribe heartbeat failed")
				return
			}
		}
	}
}

// rHubFrame is the initial-snapshot shape: {"R": {"StreamId": payload, ...}}.
type rHubFrame struct {
	R map[string]json.RawMessage `json:"R"`
}

// mHubFrame is the batched-update shape: {"M": [{"M":"feed","A":[stream,payload]}]}.
type mHubFrame struct {
	M []hubMessage `json:"M"`
}

type hubMessage struct {
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	logger := log.WithComponentFromContext(ctx, "signalr")
	defer close(t.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Warn().Err(err).Msg("signalr: read loop closed")
			return
		}
		t.handleFrame(data)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (t *Transport) handleFrame(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "{}" {
		return
	}

	var snapshot rHubFrame
	if err := json.Unmarshal(data, &snapshot); err == nil && len(snapshot.R) > 0 {
		for stream, payload := range snapshot.R {
			t.emit(stream, payload)
		}
		return
	}

	var batch mHubFrame
	if err := json.Unmarshal(data, &batch); err == nil && len(batch.M) > 0 {
		for _, hm := range batch.M {
			if hm.M != "feed" || len(hm.A) < 2 {
				if hm.M == "Heartbeat" {
					t.emit("Heartbeat", nil)
				}
				continue
			}
			var stream string
			if err := json.Unmarshal(hm.A[0], &stream); err != nil {
				continue
			}
			t.emit(stream, hm.A[1])
		}
	}
}

func (t *Transport) emit(stream string, payload json.RawMessage) {
	select {
	case t.events <- bus.TransportEvent{Stream: stream, Payload: payload}:
	default:
	}
}

// Messages implements bus.Transport.
func (t *Transport) Messages() <-chan bus.TransportEvent { return t.events }

// Close implements bus.Transport.
func (t *Transport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// ExpectsHeartbeat implements bus.Transport: SignalR pushes a dedicated
// Heartbeat stream, so the Bus enforces the 60s staleness close.
func (t *Transport) ExpectsHeartbeat() bool { return true }

var _ bus.Transport = (*Transport)(nil)
