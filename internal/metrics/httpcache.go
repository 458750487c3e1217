// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_httpcache_hits_total",
		Help: "Total fetch_json calls served from cache",
	})

	HTTPCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_httpcache_misses_total",
		Help: "Total fetch_json calls that required an outbound request",
	})

	HTTPCacheCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "f1lt_httpcache_coalesced_total",
		Help: "Total fetch_json calls that joined an in-flight request instead of starting a new one",
	})

	HTTPRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "f1lt_http_retries_total",
		Help: "Total outbound HTTP retries by reason",
	}, []string{"reason"})
)
