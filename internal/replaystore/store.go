// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replaystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// FrameStore is the crash-safe working store a Recorder writes to while
// fetching a session's archives: a SQLite database (frames.db) so a
// killed recording process can resume from whatever it already wrote.
type FrameStore struct {
	db *sql.DB
}

// OpenFrameStore opens (creating if absent) the frames.db at path.
func OpenFrameStore(path string) (*FrameStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("replaystore: open frames.db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replaystore: ping frames.db: %w", err)
	}

	s := &FrameStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *FrameStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS frames (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		stream TEXT NOT NULL,
		timestamp_ms INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON frames(timestamp_ms);
	`)
	return err
}

// Close closes the underlying database handle.
func (s *FrameStore) Close() error { return s.db.Close() }

// AppendFrames writes a batch of frames inside a single transaction.
func (s *FrameStore) AppendFrames(ctx context.Context, frames []Frame) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frames (stream, timestamp_ms, payload) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.ExecContext(ctx, f.Stream, f.TimestampMs, string(f.Payload)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// AllFramesSorted returns every stored frame ordered by timestamp_ms,
// breaking ties by insertion order (seq) so merge order is stable.
func (s *FrameStore) AllFramesSorted(ctx context.Context) ([]Frame, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stream, timestamp_ms, payload FROM frames ORDER BY timestamp_ms ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var payload string
		if err := rows.Scan(&f.Stream, &f.TimestampMs, &payload); err != nil {
			return nil, err
		}
		f.Payload = json.RawMessage(payload)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// FrameCount returns the number of rows currently stored.
func (s *FrameStore) FrameCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n)
	return n, err
}
