// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaystore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/f1/livetiming/internal/log"
	"github.com/f1/livetiming/internal/normalize"
)

// DefaultStreams is the archive stream set a recording covers, matching
// the SignalR Subscribe list plus a few archive-only series.
var DefaultStreams = []string{
	"RaceControlMessages", "TrackStatus", "SessionStatus", "WeatherData",
	"LapCount", "SessionInfo", "Heartbeat", "ExtrapolatedClock",
	"TimingData", "DriverList", "TimingAppData", "TopThree",
	"TyreStintSeries", "TeamRadio", "PitStopSeries", "ChampionshipPrediction",
}

// SessionRef identifies a session's archive location.
type SessionRef struct {
	UniqueID string // e.g. "2024_1234_5678"
	Path     string // the Index.json session Path, slash-stripped
}

// Recorder fetches and indexes a session's archives into the local cache.
type Recorder struct {
	httpClient *http.Client
	staticBase string
	cacheDir   string
	streams    []string
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithStreams overrides the default stream list.
func WithStreams(streams []string) RecorderOption {
	return func(r *Recorder) { r.streams = streams }
}

// NewRecorder builds a Recorder rooted at cacheDir, fetching archives from
// staticBase (e.g. "https://livetiming.formula1.com/static").
func NewRecorder(httpClient *http.Client, staticBase, cacheDir string, opts ...RecorderOption) *Recorder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	r := &Recorder{
		httpClient:  httpClient,
		staticBase:  strings.TrimSuffix(staticBase, "/"),
		cacheDir:   cacheDir,
		streams:    DefaultStreams,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) sessionDir(uniqueID string) string {
	return filepath.Join(r.cacheDir, uniqueID)
}

// Record fetches (or reuses) a session's archives and returns its index,
// per §4.10 steps 1-6.
func (r *Recorder) Record(ctx context.Context, ref SessionRef) (*ReplayIndex, error) {
	dir := r.sessionDir(ref.UniqueID)
	framesPath := filepath.Join(dir, "frames.jsonl")
	indexPath := filepath.Join(dir, "index.json")

	if idx, err := loadIndex(indexPath); err == nil && !idx.Stale() {
		frames, err := loadFrameLines(framesPath)
		if err == nil {
			return &ReplayIndex{Index: idx, Frames: frames}, nil
		}
	}

	logger := log.WithComponentFromContext(ctx, "replaystore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replaystore: create session dir: %w", err)
	}

	// frames.db is the crash-safe working store: each stream's fetch is
	// appended in its own transaction, so a killed recording process can
	// be re-run and resume from whatever rows already landed.
	workStore, err := OpenFrameStore(filepath.Join(dir, "frames.db"))
	if err != nil {
		return nil, err
	}
	defer workStore.Close()

	if err := r.fetchAllStreams(ctx, ref.Path, workStore); err != nil {
		return nil, err
	}

	frames, err := workStore.AllFramesSorted(ctx)
	if err != nil {
		return nil, fmt.Errorf("replaystore: read back frames.db: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("replaystore: no frames downloaded for %s", ref.UniqueID)
	}

	sessionStartedAtMs := findSessionStart(frames)
	initialState := buildInitialState(frames, sessionStartedAtMs, r.streams)

	idx := Index{
		CacheVersion:       CacheVersion,
		TotalFrames:        len(frames),
		DurationMs:         frames[len(frames)-1].TimestampMs,
		SessionStartedAtMs: sessionStartedAtMs,
		InitialState:       initialState,
		CreatedAt:          time.Now().UTC(),
	}

	if err := writeFrameLines(framesPath, frames); err != nil {
		return nil, fmt.Errorf("replaystore: write frames.jsonl: %w", err)
	}
	if err := writeIndex(indexPath, idx); err != nil {
		return nil, fmt.Errorf("replaystore: write index.json: %w", err)
	}

	logger.Info().Str("session", ref.UniqueID).Int("frames", len(frames)).
		Int64("duration_ms", idx.DurationMs).Msg("replaystore: recorded session")

	return &ReplayIndex{Index: idx, Frames: frames}, nil
}

// fetchAllStreams fans out one GET per stream not yet in workStore via
// errgroup, tolerating 404s, and appends each stream's frames to workStore
// as soon as it lands.
func (r *Recorder) fetchAllStreams(ctx context.Context, sessionPath string, workStore *FrameStore) error {
	// Each stream is appended in one transaction, so a stream with rows from
	// an earlier, interrupted run is complete and is not fetched again.
	prior, err := workStore.AllFramesSorted(ctx)
	if err != nil {
		return err
	}
	landed := make(map[string]bool)
	for _, f := range prior {
		landed[f.Stream] = true
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, stream := range r.streams {
		stream := stream
		if landed[stream] {
			continue
		}
		g.Go(func() error {
			frames, err := r.fetchStream(gctx, sessionPath, stream)
			if err != nil || len(frames) == 0 {
				return err
			}
			return workStore.AppendFrames(gctx, frames)
		})
	}
	return g.Wait()
}

func (r *Recorder) fetchStream(ctx context.Context, sessionPath, stream string) ([]Frame, error) {
	url := fmt.Sprintf("%s/%s/%s.jsonStream", r.staticBase, strings.Trim(sessionPath, "/"), stream)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		// network errors for one stream must not abort the whole recording
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var frames []Frame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		jsonStart := strings.IndexByte(line, '{')
		if jsonStart == -1 {
			continue
		}
		ts, err := parseTimestampToMs(strings.TrimSpace(line[:jsonStart]))
		if err != nil {
			continue
		}
		payload := json.RawMessage(line[jsonStart:])
		if !json.Valid(payload) {
			continue
		}
		frames = append(frames, Frame{Stream: stream, TimestampMs: ts, Payload: payload})
	}
	return frames, nil
}

// parseTimestampToMs parses "HH:MM:SS.mmm" into milliseconds from file start.
func parseTimestampToMs(ts string) (int64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("replaystore: malformed timestamp %q", ts)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, err
	}
	var millis int
	if len(secParts) > 1 {
		millis, err = strconv.Atoi(secParts[1])
		if err != nil {
			return 0, err
		}
	}
	return int64(hours*3600+minutes*60+seconds)*1000 + int64(millis), nil
}

type rawSessionStatusFrame struct {
	Status string `json:"Status"`
}

func findSessionStart(frames []Frame) int64 {
	for _, f := range frames {
		if f.Stream != "SessionStatus" {
			continue
		}
		var s rawSessionStatusFrame
		if err := json.Unmarshal(f.Payload, &s); err != nil {
			continue
		}
		if s.Status == "Started" {
			return f.TimestampMs
		}
	}
	return 0
}

// buildInitialState keeps the last payload at-or-before sessionStartedAtMs
// for each stream, special-casing TopThree's list/map merge, then falls
// back to each remaining stream's first post-start frame, per §4.10 step 5.
func buildInitialState(frames []Frame, sessionStartedAtMs int64, streams []string) map[string]json.RawMessage {
	initial := make(map[string]json.RawMessage)
	topThree := normalize.NewTopThreeBoard()
	topThreeComplete := false

	for _, f := range frames {
		if f.TimestampMs > sessionStartedAtMs {
			break
		}
		if f.Stream == "TopThree" {
			if err := topThree.ApplyTopThree(f.Payload); err == nil {
				if payload, ok := topThreeSnapshot(topThree); ok {
					initial["TopThree"] = payload
					topThreeComplete = true
				}
			}
			continue
		}
		initial[f.Stream] = f.Payload
	}

	needed := make(map[string]bool, len(streams))
	for _, s := range streams {
		if s == "TopThree" {
			if !topThreeComplete {
				needed[s] = true
			}
			continue
		}
		if _, ok := initial[s]; !ok {
			needed[s] = true
		}
	}

	if len(needed) == 0 {
		return initial
	}

	for _, f := range frames {
		if f.TimestampMs <= sessionStartedAtMs {
			continue
		}
		if !needed[f.Stream] {
			continue
		}
		if f.Stream == "TopThree" {
			if err := topThree.ApplyTopThree(f.Payload); err == nil {
				if payload, ok := topThreeSnapshot(topThree); ok {
					initial["TopThree"] = payload
					delete(needed, "TopThree")
				}
			}
			continue
		}
		initial[f.Stream] = f.Payload
		delete(needed, f.Stream)
		if len(needed) == 0 {
			break
		}
	}

	return initial
}

func topThreeSnapshot(board *normalize.TopThreeBoard) (json.RawMessage, bool) {
	lines := make([]map[string]any, 3)
	for i := 0; i < 3; i++ {
		line, ok := board.Line(i)
		if !ok {
			return nil, false
		}
		lines[i] = line
	}
	payload, err := json.Marshal(struct {
		Lines []map[string]any `json:"Lines"`
	}{Lines: lines})
	if err != nil {
		return nil, false
	}
	return payload, true
}

func loadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

func writeIndex(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadFrameLines(path string) ([]Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var frames []Frame
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wire wireFrame
		if err := json.Unmarshal(line, &wire); err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Stream: wire.Stream, TimestampMs: wire.TimestampMs, Payload: wire.Payload})
	}
	return frames, scanner.Err()
}

// wireFrame is frames.jsonl's on-disk shape: compact single-letter keys.
type wireFrame struct {
	TimestampMs int64           `json:"t"`
	Stream      string          `json:"s"`
	Payload     json.RawMessage `json:"p"`
}

func writeFrameLines(path string, frames []Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, frame := range frames {
		wire := wireFrame{TimestampMs: frame.TimestampMs, Stream: frame.Stream, Payload: frame.Payload}
		data, err := json.Marshal(wire)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Unload deletes a session's cache directory (§4.10 step 7).
func (r *Recorder) Unload(uniqueID string) error {
	return os.RemoveAll(r.sessionDir(uniqueID))
}
