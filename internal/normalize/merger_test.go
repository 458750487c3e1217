// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergedState_SessionPartChangeResetsBestSectors(t *testing.T) {
	m := NewMergedState()
	require.NoError(t, m.ApplyTimingData([]byte(`{"Lines":{"44":{"Sectors":[{"Value":"20.0","PersonalFastest":true}]}}}`)))

	dt, ok := m.DriverTiming("44")
	require.True(t, ok)
	assert.NotEmpty(t, dt.BestSectors)

	_, err := m.ApplySessionData([]byte(`{"Series":{"0":{"Utc":"2024-05-26T13:00:00Z","QualifyingPart":1}}}`))
	require.NoError(t, err)

	dt, ok = m.DriverTiming("44")
	require.True(t, ok)
	assert.Empty(t, dt.BestSectors, "a SessionPart change must reset per-driver best sectors")
}

func TestMergedState_RaceControlMessagesAccumulateAndDedup(t *testing.T) {
	m := NewMergedState()
	payload := []byte(`{"Messages":[{"Utc":"2024-05-26T13:00:00Z","Category":2,"Flag":1,"Scope":0}]}`)

	fresh, err := m.ApplyRaceControlMessages(payload)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)

	fresh, err = m.ApplyRaceControlMessages(payload)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	assert.Len(t, m.RaceControlMessages(), 1)
}

func TestMergedState_TrackStatusSnapshot(t *testing.T) {
	m := NewMergedState()
	_, err := m.ApplyTrackStatus([]byte(`{"Status":5}`))
	require.NoError(t, err)
	assert.Equal(t, TrackStatusRed, m.TrackStatus().Code)
}
