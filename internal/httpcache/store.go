// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpcache implements the Persistent HTTP Cache Helpers (C13):
// a TTL cache backed by an embedded key-value store, with in-flight
// request coalescing and a retrying JSON fetch helper.
package httpcache

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// entry is the persisted {data, saved_at} envelope for one cache key,
// stored in Badger. Data holds JSON only; no raw-text entries are written.
type entry struct {
	Data    json.RawMessage `json:"data"`
	SavedAt time.Time       `json:"saved_at"`
}

// Store is the on-disk half of the HTTP cache: a Badger-backed key-value
// store keyed by a stable cache key, with entries expiring via Badger's
// native TTL rather than a janitor goroutine.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the persistent HTTP cache at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Key builds the stable cache key url?sorted(params) used throughout §4.11.
func Key(url string, params map[string]string) string {
	if len(params) == 0 {
		return url
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(url)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// get returns the cached value for key, if present and unexpired.
func (s *Store) get(key string) (json.RawMessage, bool) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return e.Data, true
}

// put stores value under key with the given TTL.
func (s *Store) put(key string, value json.RawMessage, ttl time.Duration) error {
	e := entry{Data: value, SavedAt: time.Now()}
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		ent := badger.NewEntry([]byte(key), buf)
		if ttl > 0 {
			ent = ent.WithTTL(ttl)
		}
		return txn.SetEntry(ent)
	})
}
