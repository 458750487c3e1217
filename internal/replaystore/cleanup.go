// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaystore

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultRetention is the default cache retention window (§4.10 step 8).
const DefaultRetention = 30 * 24 * time.Hour

// CleanupStale removes cache directories whose index.json is older than
// retention, measured by its mtime. Returns the number removed.
func (r *Recorder) CleanupStale(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	entries, err := os.ReadDir(r.cacheDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		indexPath := filepath.Join(r.cacheDir, entry.Name(), "index.json")
		info, err := os.Stat(indexPath)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(r.cacheDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
