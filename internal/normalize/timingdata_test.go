// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingTable_ListSectors(t *testing.T) {
	tt := NewTimingTable()
	payload := []byte(`{"Lines":{"44":{"Sectors":[
		{"Value":"28.1","PersonalFastest":true},
		{"Value":"29.0"},
		{"Value":"30.5"}
	]}}}`)

	require.NoError(t, tt.ApplyTimingData(payload))

	dt, ok := tt.Driver("44")
	require.True(t, ok)
	assert.Equal(t, "28.1", dt.Sectors[0].Value)
	assert.True(t, dt.BestSectors[0].PersonalFastest)
}

func TestTimingTable_MapSectors(t *testing.T) {
	tt := NewTimingTable()
	payload := []byte(`{"Lines":{"1":{"Sectors":{"0":{"Value":"27.0"},"2":{"Value":"31.2"}}}}}`)

	require.NoError(t, tt.ApplyTimingData(payload))
	dt, ok := tt.Driver("1")
	require.True(t, ok)
	assert.Equal(t, "27.0", dt.Sectors[0].Value)
	assert.Equal(t, "31.2", dt.Sectors[2].Value)
	_, hasS2 := dt.Sectors[1]
	assert.False(t, hasS2)
}

func TestTimingTable_EmptyValueNeverClearsExistingTime(t *testing.T) {
	tt := NewTimingTable()
	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"16":{"Sectors":[{"Value":"25.5"}]}}}`)))
	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"16":{"Sectors":[{"Value":"","Status":0}]}}}`)))

	dt, ok := tt.Driver("16")
	require.True(t, ok)
	assert.Equal(t, "25.5", dt.Sectors[0].Value, "an empty Value must not clear a previously recorded time")
}

func TestTimingTable_LoneS1AfterCompleteLapClearsS2S3(t *testing.T) {
	tt := NewTimingTable()
	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"4":{"Sectors":[
		{"Value":"20.0"},{"Value":"21.0"},{"Value":"22.0"}
	]}}}`)))

	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"4":{"Sectors":[{"Value":"20.5"}]}}}`)))

	dt, ok := tt.Driver("4")
	require.True(t, ok)
	assert.Equal(t, "20.5", dt.Sectors[0].Value)
	_, hasS2 := dt.Sectors[1]
	_, hasS3 := dt.Sectors[2]
	assert.False(t, hasS2, "S2 from the prior complete lap must be cleared")
	assert.False(t, hasS3, "S3 from the prior complete lap must be cleared")
}

func TestTimingTable_StatusNoTimeMarksStopped(t *testing.T) {
	tt := NewTimingTable()
	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"77":{"Sectors":[{"Value":"","Status":2048}]}}}`)))

	dt, ok := tt.Driver("77")
	require.True(t, ok)
	assert.True(t, dt.Sectors[0].Stopped)
}

func TestTimingTable_ResetBestSectors(t *testing.T) {
	tt := NewTimingTable()
	require.NoError(t, tt.ApplyTimingData([]byte(`{"Lines":{"44":{"Sectors":[{"Value":"20.0","PersonalFastest":true}]}}}`)))
	tt.ResetBestSectors()

	dt, ok := tt.Driver("44")
	require.True(t, ok)
	assert.Empty(t, dt.BestSectors)
}
