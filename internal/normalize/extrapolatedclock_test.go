// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtrapolatedClock_DecodesRemainingUtcAndExtrapolating(t *testing.T) {
	anchor, err := ParseExtrapolatedClock([]byte(`{"Utc":"2024-05-26T13:00:00Z","Remaining":"01:23:45","Extrapolating":true}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 26, 13, 0, 0, 0, time.UTC), anchor.UTC)
	assert.Equal(t, 1*time.Hour+23*time.Minute+45*time.Second, anchor.Remaining)
	assert.True(t, anchor.Extrapolating)
}

func TestParseExtrapolatedClock_RejectsMalformedRemaining(t *testing.T) {
	_, err := ParseExtrapolatedClock([]byte(`{"Utc":"2024-05-26T13:00:00Z","Remaining":"not-a-duration","Extrapolating":false}`))
	assert.Error(t, err)
}
