// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverRoster_MergeAndCanonicalColor(t *testing.T) {
	roster := NewDriverRoster()
	require.NoError(t, roster.ApplyDriverList([]byte(`{"44":{"FullName":"Lewis Hamilton","TeamName":"Mercedes","TeamColour":"00D2BE"}}`)))

	d, ok := roster.Driver("44")
	require.True(t, ok)
	assert.Equal(t, "Lewis Hamilton", d.FullName)
	assert.Equal(t, "#00d2be", d.TeamColor)
}

func TestDriverRoster_PartialUpdateKeepsPriorFields(t *testing.T) {
	roster := NewDriverRoster()
	require.NoError(t, roster.ApplyDriverList([]byte(`{"1":{"FullName":"Max Verstappen","TeamColour":"#3671C6"}}`)))
	require.NoError(t, roster.ApplyDriverList([]byte(`{"1":{"TeamName":"Red Bull Racing"}}`)))

	d, ok := roster.Driver("1")
	require.True(t, ok)
	assert.Equal(t, "Max Verstappen", d.FullName)
	assert.Equal(t, "Red Bull Racing", d.TeamName)
	assert.Equal(t, "#3671c6", d.TeamColor)
}
