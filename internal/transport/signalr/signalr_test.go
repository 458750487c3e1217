// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package signalr

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport() *Transport {
	return New(nil, []string{"TrackStatus", "TimingData"})
}

func TestTransport_HandleFrame_InitialSnapshot(t *testing.T) {
	tr := newTestTransport()
	frame := `{"R":{"TrackStatus":{"Status":"1","Message":"AllClear"},"DriverList":{}}}`

	tr.handleFrame([]byte(frame))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-tr.events:
			seen[ev.Stream] = true
		case <-time.After(time.Second):
			require.Fail(t, "timed out waiting for snapshot events")
		}
	}
	assert.True(t, seen["TrackStatus"])
	assert.True(t, seen["DriverList"])
}

func TestTransport_HandleFrame_FeedMessage(t *testing.T) {
	tr := newTestTransport()
	frame := `{"M":[{"H":"Streaming","M":"feed","A":["TimingData",{"Lines":{}}]}]}`

	tr.handleFrame([]byte(frame))

	select {
	case ev := <-tr.events:
		assert.Equal(t, "TimingData", ev.Stream)
		assert.JSONEq(t, `{"Lines":{}}`, string(ev.Payload))
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for feed event")
	}
}

func TestTransport_HandleFrame_Heartbeat(t *testing.T) {
	tr := newTestTransport()
	frame := `{"M":[{"H":"Streaming","M":"Heartbeat","A":[]}]}`

	tr.handleFrame([]byte(frame))

	select {
	case ev := <-tr.events:
		assert.Equal(t, "Heartbeat", ev.Stream)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for heartbeat event")
	}
}

func TestTransport_HandleFrame_EmptyKeepaliveIgnored(t *testing.T) {
	tr := newTestTransport()
	tr.handleFrame([]byte(`{}`))

	select {
	case ev := <-tr.events:
		require.Fail(t, "unexpected event from keepalive frame", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_ExpectsHeartbeat(t *testing.T) {
	tr := newTestTransport()
	assert.True(t, tr.ExpectsHeartbeat())
}

func TestTransport_Subscribe_WritesExpectedFrame(t *testing.T) {
	var captured subscribeFrame
	tr := New(nil, []string{"TrackStatus", "TimingData"})

	received := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			received <- err
			return
		}
		defer conn.Close()
		received <- conn.ReadJSON(&captured)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, tr.subscribe(conn))
	require.NoError(t, <-received)

	assert.Equal(t, "Streaming", captured.H)
	assert.Equal(t, "Subscribe", captured.M)
	assert.Equal(t, [][]string{{"TrackStatus", "TimingData"}}, captured.A)
}
