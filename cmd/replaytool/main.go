// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// replaytool is a CLI to pre-record a session's archive streams into the
// replay cache, so operators can prime a session before a developer/demo
// replay without waiting for the daemon's on-demand fetch.
//
// Usage:
//
//	replaytool -unique-id 2024_1234_5678 -path 2024/2024-03-02_Bahrain_Grand_Prix/2024-03-02_Race
//
// Exit codes:
//   - 0: session recorded (or already cached and fresh)
//   - 1: recording failed
//   - 2: usage error (missing required flag)
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/f1/livetiming/internal/replaystore"
)

var version = "dev"

func main() {
	var uniqueID, sessionPath, cacheDir, staticBase string
	var showVersion bool

	flag.StringVar(&uniqueID, "unique-id", "", "session unique ID, e.g. 2024_1234_5678")
	flag.StringVar(&sessionPath, "path", "", "Index.json session Path, e.g. 2024/2024-03-02_Bahrain_Grand_Prix/2024-03-02_Race")
	flag.StringVar(&cacheDir, "cache-dir", "/var/lib/f1-livetiming/replay-cache", "replay cache root directory")
	flag.StringVar(&staticBase, "static-base", "https://livetiming.formula1.com/static", "archive static base URL")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if uniqueID == "" || sessionPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --unique-id and --path are required")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  replaytool -unique-id 2024_1234_5678 -path 2024/.../2024-03-02_Race")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := replaystore.NewRecorder(&http.Client{Timeout: 60 * time.Second}, staticBase, cacheDir)

	fmt.Printf("recording session %s (%s)...\n", uniqueID, sessionPath)
	idx, err := recorder.Record(ctx, replaystore.SessionRef{UniqueID: uniqueID, Path: sessionPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "recording failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ recorded %d frames, duration %s\n", idx.Index.TotalFrames, time.Duration(idx.Index.DurationMs)*time.Millisecond)
}
