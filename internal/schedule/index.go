// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/f1/livetiming/internal/httpcache"
)

// indexMeeting/indexSession mirror the season Index.json shapes the original
// integration tolerates: meetings carrying nested sessions, or (on older
// builds) a flat Sessions list with an embedded Meeting object per entry.
type indexMeeting struct {
	Name         string         `json:"Name"`
	OfficialName string         `json:"OfficialName"`
	Key          int            `json:"Key"`
	Sessions     []indexSession `json:"Sessions"`
}

type indexSession struct {
	Name      string        `json:"Name"`
	Type      string        `json:"Type"`
	Path      string        `json:"Path"`
	Key       int           `json:"Key"`
	StartDate string        `json:"StartDate"`
	EndDate   string        `json:"EndDate"`
	GmtOffset string        `json:"GmtOffset"`
	Meeting   *indexMeeting `json:"Meeting"`
}

type indexPayload struct {
	Meetings []indexMeeting `json:"Meetings"`
	Sessions []indexSession `json:"Sessions"`
}

// IndexSource is the primary schedule provider (§4.1): the well-known
// season index, read through the shared TTL/coalescing HTTP cache.
type IndexSource struct {
	fetcher *httpcache.Fetcher
	url     string
	ttl     time.Duration

	lastHTTPStatus int
}

// NewIndexSource builds a primary source reading url through fetcher.
func NewIndexSource(fetcher *httpcache.Fetcher, url string, ttl time.Duration) *IndexSource {
	return &IndexSource{fetcher: fetcher, url: url, ttl: ttl}
}

// FetchWindows implements Source.
func (s *IndexSource) FetchWindows(ctx context.Context, pre, post time.Duration, active bool) (Result, error) {
	raw, err := s.fetcher.FetchJSON(ctx, s.url, nil, s.ttl)
	if err != nil {
		s.lastHTTPStatus = 0
		return Result{Source: SourceIndex, HTTPStatus: 0, LastError: err.Error()}, nil
	}

	var payload indexPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{Source: SourceIndex, HTTPStatus: http.StatusOK, LastError: fmt.Sprintf("decode index: %v", err)}, nil
	}

	windows := buildWindowsFromIndex(payload, pre, post)
	s.lastHTTPStatus = http.StatusOK
	return Result{Windows: windows, Source: SourceIndex, HTTPStatus: http.StatusOK}, nil
}

func buildWindowsFromIndex(payload indexPayload, pre, post time.Duration) []SessionWindow {
	var windows []SessionWindow

	appendSession := func(meeting indexMeeting, session indexSession) {
		start, ok := toUTC(session.StartDate, session.GmtOffset)
		if !ok {
			return
		}
		end, ok := toUTC(session.EndDate, session.GmtOffset)
		if !ok || !end.After(start) {
			end = start.Add(2 * time.Hour)
		}
		meetingName := firstNonEmpty(meeting.OfficialName, meeting.Name, "F1")
		sessionName := firstNonEmpty(session.Name, session.Type, "Session")
		windows = append(windows, SessionWindow{
			MeetingName:  meetingName,
			SessionName:  sessionName,
			Path:         normalizePath(session.Path),
			MeetingKey:   meeting.Key,
			SessionKey:   session.Key,
			StartUTC:     start,
			EndUTC:       end,
			ConnectAt:    start.Add(-pre),
			DisconnectAt: end.Add(post),
		})
	}

	if len(payload.Meetings) > 0 {
		for _, meeting := range payload.Meetings {
			for _, session := range meeting.Sessions {
				appendSession(meeting, session)
			}
		}
	} else {
		for _, session := range payload.Sessions {
			meeting := indexMeeting{}
			if session.Meeting != nil {
				meeting = *session.Meeting
			}
			appendSession(meeting, session)
		}
	}

	sortWindows(windows)
	return windows
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizePath(path string) string {
	cleaned := strings.Trim(strings.TrimSpace(path), "/")
	if cleaned == "" {
		return ""
	}
	return cleaned + "/"
}

func sortWindows(windows []SessionWindow) {
	for i := 1; i < len(windows); i++ {
		for j := i; j > 0 && windows[j].StartUTC.Before(windows[j-1].StartUTC); j-- {
			windows[j], windows[j-1] = windows[j-1], windows[j]
		}
	}
}

// toUTC parses an F1 live-timing "StartDate"+"GmtOffset" pair into a UTC
// instant, the same local-to-UTC conversion the Formation-Start Probe (C9)
// uses for SessionInfo.
func toUTC(dateStr, gmtOffset string) (time.Time, bool) {
	if dateStr == "" {
		return time.Time{}, false
	}
	offset := parseGmtOffsetDuration(gmtOffset)
	loc := time.FixedZone("", int(offset.Seconds()))
	if strings.HasSuffix(dateStr, "Z") {
		t, err := time.Parse(time.RFC3339, dateStr)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", dateStr, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseGmtOffsetDuration(offset string) time.Duration {
	offset = strings.TrimSpace(offset)
	if offset == "" {
		return 0
	}
	sign := time.Duration(1)
	if strings.HasPrefix(offset, "-") {
		sign = -1
	}
	offset = strings.TrimPrefix(strings.TrimPrefix(offset, "-"), "+")
	parts := strings.Split(offset, ":")
	var h, m, sec int
	switch len(parts) {
	case 1:
		fmt.Sscanf(parts[0], "%d", &h)
	case 2:
		fmt.Sscanf(parts[0], "%d", &h)
		fmt.Sscanf(parts[1], "%d", &m)
	default:
		fmt.Sscanf(parts[0], "%d", &h)
		fmt.Sscanf(parts[1], "%d", &m)
		fmt.Sscanf(parts[2], "%d", &sec)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second)
}
