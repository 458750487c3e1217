// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rawRaceControlMessage is the wire shape of one entry in the
// RaceControlMessages.Messages list/map before code translation.
type rawRaceControlMessage struct {
	Utc          string `json:"Utc"`
	Category     any    `json:"Category"`
	Flag         any    `json:"Flag"`
	Scope        any    `json:"Scope"`
	Sector       int    `json:"Sector"`
	Lap          int    `json:"Lap"`
	DriverNumber string `json:"RacingNumber"`
	Message      string `json:"Message"`
}

// rawRaceControlPayload mirrors {"Messages": [...] | {"0": {...}, ...}}.
type rawRaceControlPayload struct {
	Messages json.RawMessage `json:"Messages"`
}

// dedupWindow is the bounded trailing window of seen ids (§4.5: "last 512 ids").
const dedupWindow = 512

// RaceControlDedup is a bounded FIFO set of seen message ids used to
// suppress re-delivery of the same message across reconnects/replays.
type RaceControlDedup struct {
	seen  map[int]struct{}
	order []int
}

func NewRaceControlDedup() *RaceControlDedup {
	return &RaceControlDedup{seen: make(map[int]struct{})}
}

// Admit reports whether id is new, recording it. Once the window is full
// the oldest id is evicted to make room, per the bounded-window rule.
func (d *RaceControlDedup) Admit(id int) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > dedupWindow {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}

// ParseRaceControlMessages normalizes one RaceControlMessages payload into
// an id-ascending sequence of canonical messages, applying dedup and code
// translation. Messages already admitted through dedup are never
// returned again.
func ParseRaceControlMessages(payload json.RawMessage, dedup *RaceControlDedup, sessionStart time.Time) ([]RaceControlMsg, error) {
	var raw rawRaceControlPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("normalize: RaceControlMessages: %w", err)
	}
	if len(raw.Messages) == 0 {
		return nil, nil
	}

	entries, err := decodeListOrIndexedMap(raw.Messages)
	if err != nil {
		return nil, fmt.Errorf("normalize: RaceControlMessages.Messages: %w", err)
	}

	msgs := make([]RaceControlMsg, 0, len(entries))
	for id, body := range entries {
		var rcm rawRaceControlMessage
		if err := json.Unmarshal(body, &rcm); err != nil {
			continue
		}
		if dedup != nil && !dedup.Admit(id) {
			continue
		}
		msgs = append(msgs, RaceControlMsg{
			ID:           id,
			UTC:          parseUTC(rcm.Utc, sessionStart),
			Category:     categoryOf(rcm.Category),
			Flag:         flagOf(rcm.Flag),
			Scope:        scopeOf(rcm.Scope),
			Sector:       rcm.Sector,
			Lap:          rcm.Lap,
			DriverNumber: rcm.DriverNumber,
			Message:      rcm.Message,
		})
	}
	sortMessagesByID(msgs)
	return msgs, nil
}

// decodeListOrIndexedMap handles the "Messages may arrive as list *or* map
// keyed by numeric id" polymorphism (§4.5), returning entries keyed by id
// (assigned from position when the input is a list).
func decodeListOrIndexedMap(raw json.RawMessage) (map[int]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	out := make(map[int]json.RawMessage)

	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for i, item := range list {
			id, ok := extractID(item)
			if !ok {
				id = i
			}
			out[id] = item
		}
		return out, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

func extractID(raw json.RawMessage) (int, bool) {
	var probe struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != nil {
		return *probe.ID, true
	}
	return 0, false
}

func sortMessagesByID(msgs []RaceControlMsg) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j-1].ID > msgs[j].ID; j-- {
			msgs[j-1], msgs[j] = msgs[j], msgs[j-1]
		}
	}
}

func categoryOf(v any) Category {
	switch t := v.(type) {
	case float64:
		if c, ok := categoryByCode[int(t)]; ok {
			return c
		}
	case string:
		return Category(t)
	}
	return CategoryOther
}

func flagOf(v any) Flag {
	switch t := v.(type) {
	case float64:
		if f, ok := flagByCode[int(t)]; ok {
			return f
		}
	case string:
		if strings.EqualFold(t, "CLEAR") {
			return FlagClear
		}
		return Flag(t)
	}
	return FlagNone
}

func scopeOf(v any) Scope {
	switch t := v.(type) {
	case float64:
		if s, ok := scopeByCode[int(t)]; ok {
			return s
		}
	case string:
		return Scope(t)
	}
	return ScopeTrack
}

// parseUTC accepts an ISO timestamp with or without a trailing "Z", or a
// plain millisecond offset from the session start (§4.5). sessionStart is
// the reference point for the offset form. The zero time is returned when
// value is empty or unparsable, or is an offset and sessionStart is zero.
func parseUTC(value string, sessionStart time.Time) time.Time {
	if value == "" {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil && !sessionStart.IsZero() {
		return sessionStart.Add(time.Duration(ms) * time.Millisecond).UTC()
	}
	return time.Time{}
}
