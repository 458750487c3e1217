// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/f1/livetiming/internal/cache"
	"github.com/f1/livetiming/internal/log"
)

// cacheKeyWindows is the single entry the window cache ever holds; one
// source, one cached result.
const cacheKeyWindows = "windows"

const (
	// defaultActiveCacheTTL/defaultIdleCacheTTL implement the original's
	// "short TTL while a window is active, long TTL while idle" caching.
	defaultActiveCacheTTL = 60 * time.Second
	defaultIdleCacheTTL   = 15 * time.Minute
	defaultEnvRefreshTTL  = time.Hour
	requestTimeout        = 10 * time.Second
)

// TrackerConfig are the secondary source's self-healing connection
// parameters (§4.1); the daemon builds this from config.EventTrackerConfig
// plus the manifest URL it scrapes on 401/403.
type TrackerConfig struct {
	BaseURL       string
	EndpointPath  string
	MeetingPrefix string
	APIKey        string
	Locale        string
	// EnvSourceURL is the public manifest page scraped for a fresh
	// base URL/endpoint/meeting-prefix/API key when the tracker answers
	// 401/403 (§4.1's "scraping a known manifest").
	EnvSourceURL string
}

var envKeyPattern = map[string]*regexp.Regexp{
	"base_url":      regexp.MustCompile(`PUBLIC_GLOBAL_APIGEE_BASEURL"\s*:\s*"([^"]+)"`),
	"endpoint":      regexp.MustCompile(`PUBLIC_GLOBAL_EVENTTRACKER_ENDPOINT"\s*:\s*"([^"]+)"`),
	"meeting_prefix": regexp.MustCompile(`PUBLIC_GLOBAL_EVENTTRACKER_MEETINGENDPOINT"\s*:\s*"([^"]+)"`),
	"api_key":       regexp.MustCompile(`PUBLIC_GLOBAL_EVENTTRACKER_APIKEY"\s*:\s*"([^"]+)"`),
}

// EventTrackerSource is the secondary schedule provider: a JSON tracker
// endpoint plus a per-meeting endpoint, with dynamic base-URL/endpoint/
// API-key recovery when the upstream answers 401/403 (§4.1).
type EventTrackerSource struct {
	client *http.Client

	mu          sync.Mutex
	cfg         TrackerConfig
	windowCache cache.Cache

	lastEnvRefresh time.Time
	now            func() time.Time
}

// NewEventTrackerSource builds a secondary source from cfg.
func NewEventTrackerSource(client *http.Client, cfg TrackerConfig) *EventTrackerSource {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	return &EventTrackerSource{
		client:      client,
		cfg:         cfg,
		windowCache: cache.NewMemoryCache(defaultIdleCacheTTL),
		now:         time.Now,
	}
}

// FetchWindows implements Source.
func (s *EventTrackerSource) FetchWindows(ctx context.Context, pre, post time.Duration, active bool) (Result, error) {
	if v, ok := s.windowCache.Get(cacheKeyWindows); ok {
		return v.(Result), nil
	}
	ttl := defaultIdleCacheTTL
	if active {
		ttl = defaultActiveCacheTTL
	}

	s.refreshDynamicConfig(ctx, false)

	s.mu.Lock()
	endpoint := s.cfg.EndpointPath
	s.mu.Unlock()

	var errs []string
	var windows []SessionWindow
	var meetingKey int
	root, err := s.fetchTrackerJSONRetryable(ctx, endpoint, "root", 0, true)
	if err != nil {
		errs = append(errs, "root:"+err.Error())
	} else {
		meetingKey = extractMeetingKey(root)
		windows = windowsFromTrackerPayload(root, pre, post, meetingKey)
	}

	if len(windows) == 0 && meetingKey != 0 {
		s.mu.Lock()
		meetingEndpoint := s.buildMeetingEndpoint(meetingKey)
		s.mu.Unlock()
		meetingPayload, err := s.fetchTrackerJSONRetryable(ctx, meetingEndpoint, "meeting", meetingKey, true)
		if err != nil {
			errs = append(errs, "meeting:"+err.Error())
		} else {
			windows = windowsFromTrackerPayload(meetingPayload, pre, post, meetingKey)
		}
	}

	result := Result{Windows: windows, Source: SourceEventTracker}
	if len(errs) > 0 {
		result.LastError = strings.Join(errs, "; ")
	}

	s.windowCache.Set(cacheKeyWindows, result, ttl)

	return result, nil
}

func (s *EventTrackerSource) buildMeetingEndpoint(meetingKey int) string {
	prefix := s.cfg.MeetingPrefix
	if strings.Contains(prefix, "{meeting_key}") {
		return strings.ReplaceAll(prefix, "{meeting_key}", strconv.Itoa(meetingKey))
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strconv.Itoa(meetingKey)
}

type trackerHTTPError struct {
	status int
	msg    string
}

func (e *trackerHTTPError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.status, e.msg) }

func (s *EventTrackerSource) fetchTrackerJSONRetryable(ctx context.Context, endpoint, kind string, meetingKey int, allowRetry bool) (map[string]any, error) {
	s.mu.Lock()
	url := s.cfg.BaseURL + endpoint
	headers := map[string]string{"apiKey": s.cfg.APIKey, "locale": s.cfg.Locale}
	oldEndpoint := s.cfg.EndpointPath
	oldMeetingPrefix := s.cfg.MeetingPrefix
	s.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body []byte
	body, err = readAllLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if allowRetry && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.refreshDynamicConfig(ctx, true)

			s.mu.Lock()
			retryEndpoint := endpoint
			if kind == "root" && oldEndpoint == endpoint {
				retryEndpoint = s.cfg.EndpointPath
			} else if kind == "meeting" && meetingKey != 0 && oldMeetingPrefix != "" {
				retryEndpoint = s.buildMeetingEndpoint(meetingKey)
			}
			s.mu.Unlock()

			return s.fetchTrackerJSONRetryable(ctx, retryEndpoint, kind, meetingKey, false)
		}
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, &trackerHTTPError{status: resp.StatusCode, msg: preview}
	}

	var payload map[string]any
	if err := json.Unmarshal(trimBOM(body), &payload); err != nil {
		return nil, fmt.Errorf("event-tracker payload is not a JSON object: %w", err)
	}
	return payload, nil
}

// refreshDynamicConfig scrapes EnvSourceURL for fresh connection parameters
// (§4.1), rate-limited unless force is set.
func (s *EventTrackerSource) refreshDynamicConfig(ctx context.Context, force bool) {
	s.mu.Lock()
	if !force && s.now().Sub(s.lastEnvRefresh) < defaultEnvRefreshTTL {
		s.mu.Unlock()
		return
	}
	s.lastEnvRefresh = s.now()
	envURL := s.cfg.EnvSourceURL
	s.mu.Unlock()
	if envURL == "" {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, envURL, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := readAllLimited(resp.Body)
	if err != nil {
		return
	}
	text := string(body)

	s.mu.Lock()
	defer s.mu.Unlock()
	updated := false
	if m := envKeyPattern["base_url"].FindStringSubmatch(text); m != nil {
		s.cfg.BaseURL = strings.TrimSuffix(m[1], "/")
		updated = true
	}
	if m := envKeyPattern["endpoint"].FindStringSubmatch(text); m != nil {
		s.cfg.EndpointPath = normalizeEndpoint(m[1])
		updated = true
	}
	if m := envKeyPattern["meeting_prefix"].FindStringSubmatch(text); m != nil {
		s.cfg.MeetingPrefix = normalizeEndpoint(m[1])
		updated = true
	}
	if m := envKeyPattern["api_key"].FindStringSubmatch(text); m != nil {
		s.cfg.APIKey = m[1]
		updated = true
	}
	if updated {
		log.L().Info().Msg("schedule: refreshed event-tracker fallback configuration")
	}
}

func normalizeEndpoint(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "/"
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}

func trimBOM(b []byte) []byte {
	return []byte(strings.TrimPrefix(string(b), "﻿"))
}

func extractMeetingKey(payload map[string]any) int {
	if payload == nil {
		return 0
	}
	if seasonCtx, ok := payload["seasonContext"].(map[string]any); ok {
		if v, ok := asInt(seasonCtx["currentOrNextMeetingKey"]); ok {
			return v
		}
	}
	if meetingCtx, ok := payload["meetingContext"].(map[string]any); ok {
		if v, ok := asInt(meetingCtx["meetingKey"]); ok {
			return v
		}
	}
	if v, ok := asInt(payload["fomRaceId"]); ok {
		return v
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func extractTimetables(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}
	candidates := []string{"seasonContext", "event", "meetingContext"}
	for _, key := range candidates {
		section, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		raw, ok := section["timetables"].([]any)
		if !ok {
			continue
		}
		var rows []map[string]any
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		if len(rows) > 0 {
			return rows
		}
	}
	return nil
}

func extractMeetingName(payload map[string]any) string {
	if payload == nil {
		return "F1"
	}
	candidates := []string{"race", "event"}
	for _, key := range candidates {
		section, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range []string{"meetingOfficialName", "meetingName"} {
			if v, ok := section[field].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	return "F1"
}

func windowsFromTrackerPayload(payload map[string]any, pre, post time.Duration, meetingKey int) []SessionWindow {
	timetables := extractTimetables(payload)
	meetingName := extractMeetingName(payload)

	var windows []SessionWindow
	for _, item := range timetables {
		start, ok := toUTC(stringField(item, "startTime"), stringField(item, "gmtOffset"))
		if !ok {
			continue
		}
		end, ok := toUTC(stringField(item, "endTime"), stringField(item, "gmtOffset"))
		if !ok || !end.After(start) {
			end = start.Add(2 * time.Hour)
		}
		sessionName := firstNonEmpty(
			stringField(item, "description"),
			stringField(item, "shortName"),
			stringField(item, "sessionType"),
			"Session",
		)
		sessionKey, _ := asInt(item["meetingSessionKey"])
		windows = append(windows, SessionWindow{
			MeetingName:  meetingName,
			SessionName:  sessionName,
			MeetingKey:   meetingKey,
			SessionKey:   sessionKey,
			StartUTC:     start,
			EndUTC:       end,
			ConnectAt:    start.Add(-pre),
			DisconnectAt: end.Add(post),
		})
	}
	sortWindows(windows)
	return windows
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func readAllLimited(r io.Reader) ([]byte, error) {
	const maxBody = 4 << 20
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for len(buf) < maxBody {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
