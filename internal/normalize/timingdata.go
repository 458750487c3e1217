// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"strconv"
)

// statusNoTime is the TimingData sector status bit meaning "no time".
const statusNoTime = 2048

// rawTimingDataPayload mirrors {"Lines": {"<racingNumber>": {"Sectors": ...}}}.
type rawTimingDataPayload struct {
	Lines map[string]rawDriverLine `json:"Lines"`
}

type rawDriverLine struct {
	Sectors json.RawMessage `json:"Sectors"`
}

type rawSector struct {
	Value           string `json:"Value"`
	Status          int    `json:"Status"`
	PersonalFastest bool   `json:"PersonalFastest"`
	OverallFastest  bool   `json:"OverallFastest"`
	Stopped         bool   `json:"Stopped"`
}

// TimingTable is the merged per-driver timing state owned by the Merger.
type TimingTable struct {
	drivers map[string]*DriverTiming
}

func NewTimingTable() *TimingTable {
	return &TimingTable{drivers: make(map[string]*DriverTiming)}
}

// ApplyTimingData merges one TimingData delta into the table, per §4.5:
// sectors may be list-of-3 or map keyed by stringified index; an empty
// Value never clears an existing time; a lone S1 (no S2/S3 in the same
// payload) after a prior complete lap clears S2/S3; PersonalFastest
// updates best sectors only when true.
func (t *TimingTable) ApplyTimingData(payload json.RawMessage) error {
	var raw rawTimingDataPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return err
	}
	for number, line := range raw.Lines {
		if len(line.Sectors) == 0 {
			continue
		}
		sectors, err := decodeSectors(line.Sectors)
		if err != nil {
			continue
		}
		t.mergeDriver(number, sectors)
	}
	return nil
}

func (t *TimingTable) mergeDriver(number string, delta map[int]rawSector) {
	dt, ok := t.drivers[number]
	if !ok {
		dt = &DriverTiming{
			RacingNumber: number,
			Sectors:      make(map[int]Sector),
			BestSectors:  make(map[int]Sector),
		}
		t.drivers[number] = dt
	}

	priorComplete := hasSector(dt.Sectors, 0) && hasSector(dt.Sectors, 1) && hasSector(dt.Sectors, 2)
	_, hasS1 := delta[0]
	_, hasS2 := delta[1]
	_, hasS3 := delta[2]
	if hasS1 && !hasS2 && !hasS3 && priorComplete {
		delete(dt.Sectors, 1)
		delete(dt.Sectors, 2)
	}

	for idx, raw := range delta {
		cur, existed := dt.Sectors[idx]
		merged := cur
		if raw.Value != "" {
			merged.Value = raw.Value
		} else if !existed {
			merged.Value = ""
		}
		merged.Status = raw.Status
		merged.Stopped = raw.Stopped || raw.Status == statusNoTime
		merged.PersonalFastest = raw.PersonalFastest
		merged.OverallFastest = raw.OverallFastest
		dt.Sectors[idx] = merged

		if raw.PersonalFastest {
			dt.BestSectors[idx] = merged
		}
	}
}

func hasSector(m map[int]Sector, idx int) bool {
	s, ok := m[idx]
	return ok && s.Value != ""
}

// ResetBestSectors clears every driver's personal-best sectors, called on
// a SessionPart change per §4.5.
func (t *TimingTable) ResetBestSectors() {
	for _, dt := range t.drivers {
		dt.BestSectors = make(map[int]Sector)
	}
}

// Driver returns the merged timing record for racingNumber, if any.
func (t *TimingTable) Driver(racingNumber string) (DriverTiming, bool) {
	dt, ok := t.drivers[racingNumber]
	if !ok {
		return DriverTiming{}, false
	}
	return *dt, true
}

// decodeSectors handles the list-of-3-or-indexed-map polymorphism: a JSON
// array is indexed 0,1,2; a JSON object is keyed by stringified index.
func decodeSectors(raw json.RawMessage) (map[int]rawSector, error) {
	out := make(map[int]rawSector)

	var list []rawSector
	if err := json.Unmarshal(raw, &list); err == nil {
		for i, s := range list {
			out[i] = s
		}
		return out, nil
	}

	var m map[string]rawSector
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[idx] = v
	}
	return out, nil
}
