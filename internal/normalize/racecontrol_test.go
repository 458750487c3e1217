// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaceControlMessages_ListForm(t *testing.T) {
	payload := []byte(`{"Messages":[
		{"Utc":"2024-05-26T13:00:00Z","Category":2,"Flag":1,"Scope":0,"Message":"GREEN LIGHT"},
		{"Utc":"2024-05-26T13:01:00Z","Category":1,"Flag":"CLEAR","Scope":0,"Message":"SC IN THIS LAP"}
	]}`)

	msgs, err := ParseRaceControlMessages(payload, NewRaceControlDedup(), time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, CategoryFlag, msgs[0].Category)
	assert.Equal(t, FlagGreen, msgs[0].Flag)
	assert.Equal(t, ScopeTrack, msgs[0].Scope)
	assert.Equal(t, FlagClear, msgs[1].Flag)
}

func TestParseRaceControlMessages_MapForm_AssignsIDFromKey(t *testing.T) {
	payload := []byte(`{"Messages":{
		"5":{"Utc":"2024-05-26T13:00:00Z","Category":2,"Flag":4,"Scope":0,"Message":"RED FLAG"},
		"3":{"Utc":"2024-05-26T12:59:00Z","Category":2,"Flag":2,"Scope":1,"Sector":4,"Message":"YELLOW"}
	}}`)

	msgs, err := ParseRaceControlMessages(payload, NewRaceControlDedup(), time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 3, msgs[0].ID, "messages must be ordered ascending by id")
	assert.Equal(t, 5, msgs[1].ID)
	assert.Equal(t, FlagRed, msgs[1].Flag)
}

func TestParseRaceControlMessages_DedupAcrossCalls(t *testing.T) {
	dedup := NewRaceControlDedup()
	payload := []byte(`{"Messages":[{"Utc":"2024-05-26T13:00:00Z","Category":2,"Flag":1,"Scope":0}]}`)

	first, err := ParseRaceControlMessages(payload, dedup, time.Time{})
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := ParseRaceControlMessages(payload, dedup, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, second, "re-delivery of an already-seen id must be suppressed")
}

func TestRaceControlDedup_EvictsOldestBeyondWindow(t *testing.T) {
	dedup := NewRaceControlDedup()
	for i := 0; i < dedupWindow; i++ {
		assert.True(t, dedup.Admit(i))
	}
	// id 0 is still inside the window.
	assert.False(t, dedup.Admit(0))

	// One more push evicts id 0.
	assert.True(t, dedup.Admit(dedupWindow))
	assert.True(t, dedup.Admit(0), "id 0 should have been evicted from the window")
}

func TestParseUTC_MillisecondOffsetFromSessionStart(t *testing.T) {
	start := time.Date(2024, 5, 26, 13, 0, 0, 0, time.UTC)
	got := parseUTC("5000", start)
	assert.Equal(t, start.Add(5*time.Second), got)
}

func TestParseUTC_ISOWithoutZ(t *testing.T) {
	got := parseUTC("2024-05-26T13:00:00.000", time.Time{})
	assert.Equal(t, 2024, got.Year())
}

func TestDecodeListOrIndexedMap_EmptyList(t *testing.T) {
	entries, err := decodeListOrIndexedMap(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
