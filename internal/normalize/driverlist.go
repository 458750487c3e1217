// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"strings"
)

type rawDriver struct {
	RacingNumber string `json:"RacingNumber"`
	FullName     string `json:"FullName"`
	TeamName     string `json:"TeamName"`
	TeamColour   string `json:"TeamColour"`
}

// DriverRoster is the merged DriverList keyed by racing number (§4.5).
type DriverRoster struct {
	byNumber map[string]*Driver
}

func NewDriverRoster() *DriverRoster {
	return &DriverRoster{byNumber: make(map[string]*Driver)}
}

// ApplyDriverList merges identity deltas keyed by racing number, per §4.5.
func (r *DriverRoster) ApplyDriverList(payload json.RawMessage) error {
	var raw map[string]rawDriver
	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}
	for number, rd := range raw {
		d, ok := r.byNumber[number]
		if !ok {
			d = &Driver{RacingNumber: number}
			r.byNumber[number] = d
		}
		if rd.FullName != "" {
			d.FullName = rd.FullName
		}
		if rd.TeamName != "" {
			d.TeamName = rd.TeamName
		}
		if rd.TeamColour != "" {
			d.TeamColor = canonicalTeamColor(rd.TeamColour)
		}
	}
	return nil
}

// canonicalTeamColor lower-cases the hex string and ensures a leading "#".
func canonicalTeamColor(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	c = strings.TrimPrefix(c, "#")
	return "#" + c
}

// Driver returns the merged identity for racingNumber, if known.
func (r *DriverRoster) Driver(racingNumber string) (Driver, bool) {
	d, ok := r.byNumber[racingNumber]
	if !ok {
		return Driver{}, false
	}
	return *d, true
}
