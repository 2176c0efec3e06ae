package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlitelens_http_requests_total",
			Help: "HTTP requests served, by route template, method and status code.",
		},
		[]string{"route", "method", "code"},
	)
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlitelens_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route template.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
