package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlitelens_analytics_cache_requests_total",
			Help: "Analytics cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
	cachedResults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlitelens_analytics_cached_results",
			Help: "Number of analytics results currently cached.",
		},
	)
	computeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlitelens_analytics_compute_seconds",
			Help:    "Time spent reading the analytics table and computing its stats.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)
