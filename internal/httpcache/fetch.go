// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/f1/livetiming/internal/metrics"
	xglog "github.com/f1/livetiming/internal/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxRetries and the back-off schedule implement §4.11: "429 triggers
// exponential back-off up to 3 attempts (1s, 2s, 4s)".
const maxRetries = 3

var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Fetcher implements fetch_json(url, params, ttl) from §4.11: a cached,
// coalesced, retrying JSON client. The zero value is not usable; build one
// with New.
type Fetcher struct {
	store   *Store
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
}

// New builds a Fetcher persisting into store. ratePerSec bounds outbound
// request pacing (0 disables limiting).
func New(store *Store, client *http.Client, ratePerSec float64) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Fetcher{store: store, client: client, limiter: lim}
}

// FetchJSON implements fetch_json(url, params, ttl): stable cache key,
// in-flight coalescing, persisted TTL entry, retrying on HTTP 429.
func (f *Fetcher) FetchJSON(ctx context.Context, url string, params map[string]string, ttl time.Duration) (json.RawMessage, error) {
	key := Key(url, params)
	logger := xglog.WithComponentFromContext(ctx, "httpcache")

	if cached, ok := f.store.get(key); ok {
		metrics.HTTPCacheHitsTotal.Inc()
		return cached, nil
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		return f.fetchAndStore(ctx, key, url, ttl)
	})
	if shared {
		metrics.HTTPCacheCoalescedTotal.Inc()
		logger.Debug().Str("key", key).Msg("fetch_json coalesced onto in-flight request")
	}
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (f *Fetcher) fetchAndStore(ctx context.Context, key, url string, ttl time.Duration) (json.RawMessage, error) {
	metrics.HTTPCacheMissesTotal.Inc()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.HTTPRetriesTotal.WithLabelValues("rate_limited").Inc()
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, status, err := f.doGet(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("httpcache: %s returned 429", url)
			continue
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("httpcache: %s returned status %d", url, status)
		}

		if err := f.store.put(key, body, ttl); err != nil {
			xglog.WithComponentFromContext(ctx, "httpcache").Warn().Err(err).Str("key", key).Msg("failed to persist cache entry")
		}
		return body, nil
	}
	return nil, fmt.Errorf("httpcache: exhausted retries for %s: %w", url, lastErr)
}

func (f *Fetcher) doGet(ctx context.Context, url string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return json.RawMessage(body), resp.StatusCode, nil
}
