// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package formation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// rawSessionInfo mirrors the fields of a SessionInfo payload this probe
// needs: the archive path, the session type/name used to gate Race/Sprint
// detection, and the scheduled start.
type rawSessionInfo struct {
	Path      string `json:"Path"`
	Key       int    `json:"Key"`
	Type      string `json:"Type"`
	Name      string `json:"Name"`
	StartDate string `json:"StartDate"`
	GmtOffset string `json:"GmtOffset"`
}

func parseSessionInfo(payload json.RawMessage) (rawSessionInfo, error) {
	var raw rawSessionInfo
	if err := json.Unmarshal(payload, &raw); err != nil {
		return rawSessionInfo{}, err
	}
	return raw, nil
}

// sessionID derives a stable identifier, preferring Path over the numeric Key.
func (r rawSessionInfo) sessionID() string {
	if p := strings.Trim(r.Path, "/"); p != "" {
		return p
	}
	if r.Key != 0 {
		return strconv.Itoa(r.Key)
	}
	return ""
}

// isRaceOrSprint mirrors the original's keyword gate: sessions with
// "sprint" in the type/name (and not also "qualifying") or with "race" in
// either field qualify (§4.8).
func isRaceOrSprint(sessionType, sessionName string) bool {
	joined := strings.ToLower(sessionType + " " + sessionName)
	if strings.Contains(joined, "sprint") && !strings.Contains(joined, "qualifying") {
		return true
	}
	return strings.Contains(joined, "race")
}

// parseGmtOffset parses a "+HH:MM:SS" / "-HH:MM:SS" style offset into a
// duration, tolerating a missing or malformed value as zero.
func parseGmtOffset(offset string) time.Duration {
	if offset == "" {
		return 0
	}
	sign := time.Duration(1)
	trimmed := offset
	if strings.HasPrefix(trimmed, "-") {
		sign = -1
		trimmed = trimmed[1:]
	} else if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	parts := strings.Split(trimmed, ":")
	var hours, minutes, seconds int
	if len(parts) > 0 {
		hours, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minutes, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		seconds, _ = strconv.Atoi(parts[2])
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second)
}

// scheduledStartUTC derives the session's scheduled start, per §4.8:
// StartDate interpreted in the timezone named by GmtOffset, converted to
// UTC. A trailing "Z" on StartDate means it is already UTC.
func scheduledStartUTC(r rawSessionInfo) (time.Time, bool) {
	if r.StartDate == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(r.StartDate, "Z") {
		t, err := time.Parse(time.RFC3339, r.StartDate)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}

	offset := parseGmtOffset(r.GmtOffset)
	loc := time.FixedZone("", int(offset.Seconds()))
	layouts := []string{"2006-01-02T15:04:05", time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, r.StartDate, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
