// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"strconv"
)

// rawTrackStatus mirrors the TrackStatus stream payload: Status is
// usually numeric but may arrive as a numeric string, and Message is the
// text alias which overrides the numeric code when both are present.
type rawTrackStatus struct {
	Status  json.RawMessage `json:"Status"`
	Message string          `json:"Message"`
}

// ParseTrackStatus applies the numeric+text alias table from §3/§4.5:
// "Text messages override numeric."
func ParseTrackStatus(payload json.RawMessage) (TrackStatusState, error) {
	var raw rawTrackStatus
	if err := json.Unmarshal(payload, &raw); err != nil {
		return TrackStatusState{}, err
	}

	code := codeFromRaw(raw.Status)
	text := trackStatusText[code]
	if raw.Message != "" {
		text = raw.Message
		if c, ok := codeFromText(raw.Message); ok {
			code = c
		}
	}
	return TrackStatusState{Code: code, Text: text}, nil
}

func codeFromRaw(raw json.RawMessage) TrackStatusCode {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return TrackStatusCode(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return TrackStatusCode(n)
		}
	}
	return 0
}

func codeFromText(text string) (TrackStatusCode, bool) {
	for code, name := range trackStatusText {
		if name == text {
			return code, true
		}
	}
	return 0, false
}
