// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackStatus_NumericOnly(t *testing.T) {
	ts, err := ParseTrackStatus([]byte(`{"Status":2}`))
	require.NoError(t, err)
	assert.Equal(t, TrackStatusYellow, ts.Code)
	assert.Equal(t, "Yellow", ts.Text)
}

func TestParseTrackStatus_TextOverridesNumeric(t *testing.T) {
	ts, err := ParseTrackStatus([]byte(`{"Status":2,"Message":"AllClear"}`))
	require.NoError(t, err)
	assert.Equal(t, TrackStatusClear, ts.Code, "a text alias must override the numeric code per §4.5")
	assert.Equal(t, "AllClear", ts.Text)
}

func TestParseTrackStatus_StringStatus(t *testing.T) {
	ts, err := ParseTrackStatus([]byte(`{"Status":"5"}`))
	require.NoError(t, err)
	assert.Equal(t, TrackStatusRed, ts.Code)
}
