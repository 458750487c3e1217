// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package formation

import (
	"bufio"
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// carDataResource is the archive file scanned for the formation marker.
const carDataResource = "CarData.z.jsonStream"

func buildStaticURL(staticBase, path, resource string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(staticBase, "/"), strings.Trim(path, "/"), resource)
}

// carDataEntry is one sample inside an inflated CarData.z block: each
// carries its own wall-clock UTC, independent of the archive line's
// file-relative "HH:MM:SS.mmm" prefix (§4.8).
type carDataEntry struct {
	UTC string `json:"Utc"`
}

type carDataBlock struct {
	Entries []carDataEntry `json:"Entries"`
}

// decodeCarDataLine inflates one archive line's base64, raw-deflate
// payload (the ".z" stream encoding) and returns the UTC timestamps of
// every sample it carries.
func decodeCarDataLine(line string) ([]time.Time, error) {
	// Skip the file-relative "HH:MM:SS.mmm" prefix; the base64 payload
	// after it never contains '.', and may be wrapped in quotes.
	b64 := line
	if dot := strings.IndexByte(line, '.'); dot >= 0 && dot+4 <= len(line) {
		b64 = line[dot+4:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Trim(strings.TrimSpace(b64), `"`))
	if err != nil {
		return nil, err
	}

	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	inflated, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var block carDataBlock
	if err := json.Unmarshal(inflated, &block); err != nil {
		return nil, err
	}

	utcs := make([]time.Time, 0, len(block.Entries))
	for _, entry := range block.Entries {
		t, err := parseISOUTC(entry.UTC)
		if err != nil {
			continue
		}
		utcs = append(utcs, t)
	}
	return utcs, nil
}

func parseISOUTC(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("formation: empty timestamp")
	}
	if strings.HasSuffix(value, "Z") {
		return time.Parse(time.RFC3339Nano, value)
	}
	return time.Parse("2006-01-02T15:04:05.999999999", value)
}

// cardataOutcome is the terminal result of one probe attempt.
type cardataOutcome struct {
	bestUTC   time.Time
	bestDelta time.Duration
	found     bool
	errCode   string // not_found, timeout, empty, not_reached, out_of_window, error
}

// probeCarData fetches the CarData archive and finds the UTC timestamp
// closest to target within ±90s, per §4.8.
func probeCarData(ctx context.Context, httpClient *http.Client, url string, target time.Time) cardataOutcome {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cardataOutcome{errCode: "error"}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return cardataOutcome{errCode: "timeout"}
		}
		return cardataOutcome{errCode: "error"}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return cardataOutcome{errCode: "not_found"}
	}
	if resp.StatusCode != http.StatusOK {
		return cardataOutcome{errCode: "error"}
	}

	var (
		maxSeen   time.Time
		haveMax   bool
		bestUTC   time.Time
		bestDelta time.Duration
		haveBest  bool
		stopScan  bool
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for !stopScan && scanner.Scan() {
		if ctx.Err() != nil {
			return cardataOutcome{errCode: "timeout"}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		utcs, err := decodeCarDataLine(line)
		if err != nil {
			continue
		}
		for _, utc := range utcs {
			if !haveMax || utc.After(maxSeen) {
				maxSeen = utc
				haveMax = true
			}
			delta := utc.Sub(target)
			if delta < 0 {
				delta = -delta
			}
			if !haveBest || delta < bestDelta {
				bestDelta = delta
				bestUTC = utc
				haveBest = true
			}
			if utc.After(target.Add(searchWindow)) {
				stopScan = true
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return cardataOutcome{errCode: "error"}
	}

	if !haveMax {
		return cardataOutcome{errCode: "empty"}
	}
	if maxSeen.Before(target.Add(-time.Second)) {
		return cardataOutcome{errCode: "not_reached"}
	}
	if !haveBest || bestDelta > searchWindow {
		return cardataOutcome{errCode: "out_of_window"}
	}

	return cardataOutcome{bestUTC: bestUTC, bestDelta: bestDelta, found: true}
}
