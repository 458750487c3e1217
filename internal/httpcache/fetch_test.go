// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_FetchJSON_CachesOnSecondCall(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(openTestStore(t), srv.Client(), 0)

	ctx := context.Background()
	body, err := f.FetchJSON(ctx, srv.URL, nil, time.Minute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	body2, err := f.FetchJSON(ctx, srv.URL, nil, time.Minute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body2))

	assert.EqualValues(t, 1, atomic.LoadInt64(&hits), "second call should be served from cache, not hit the server")
}

func TestFetcher_FetchJSON_CoalescesConcurrentRequests(t *testing.T) {
	var hits int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(openTestStore(t), srv.Client(), 0)
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.FetchJSON(ctx, srv.URL, nil, time.Minute)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&hits), "concurrent callers for the same key must coalesce into one outbound request")
}

func TestFetcher_FetchJSON_RetriesOn429(t *testing.T) {
	var attempts int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	orig := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = orig }()

	f := New(openTestStore(t), srv.Client(), 0)
	body, err := f.FetchJSON(context.Background(), srv.URL, nil, time.Minute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 3, atomic.LoadInt64(&attempts))
}

func TestFetcher_FetchJSON_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	orig := retryDelays
	retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = orig }()

	f := New(openTestStore(t), srv.Client(), 0)
	_, err := f.FetchJSON(context.Background(), srv.URL, nil, time.Minute)
	assert.Error(t, err)
}
