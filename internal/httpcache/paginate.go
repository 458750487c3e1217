// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const pageSize = 100

// mrDataEnvelope mirrors just enough of the Ergast-style MRData wrapper to
// drive pagination; callers unmarshal the full page themselves.
type mrDataEnvelope struct {
	MRData struct {
		Total string `json:"total"`
	} `json:"MRData"`
}

// FetchAllPages implements the paginated fetch described in §4.11: send
// limit=100, offset=0; read MRData.total; continue until the collected
// list covers total. Each page's raw body is appended to the returned
// slice in request order.
func (f *Fetcher) FetchAllPages(ctx context.Context, url string, baseParams map[string]string, ttl time.Duration) ([]json.RawMessage, error) {
	pages := make([]json.RawMessage, 0, 1)
	offset := 0
	collected := 0
	total := -1

	for total < 0 || collected < total {
		params := make(map[string]string, len(baseParams)+2)
		for k, v := range baseParams {
			params[k] = v
		}
		params["limit"] = strconv.Itoa(pageSize)
		params["offset"] = strconv.Itoa(offset)

		body, err := f.FetchJSON(ctx, url, params, ttl)
		if err != nil {
			return nil, fmt.Errorf("httpcache: paginated fetch at offset %d: %w", offset, err)
		}
		pages = append(pages, body)

		var env mrDataEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("httpcache: paginated fetch: decoding MRData.total: %w", err)
		}
		t, err := strconv.Atoi(env.MRData.Total)
		if err != nil {
			return nil, fmt.Errorf("httpcache: paginated fetch: invalid MRData.total %q: %w", env.MRData.Total, err)
		}
		total = t
		collected += pageSize
		offset += pageSize
	}
	return pages, nil
}
