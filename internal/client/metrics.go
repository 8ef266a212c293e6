package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_publish_rows_total",
		Help: "Total number of rows published to Longbow",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_publish_failures_total",
		Help: "Total number of failed Longbow publishes",
	})

	publishSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_publish_skipped_total",
		Help: "Total number of publishes skipped by the open circuit breaker",
	})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordlm_publish_duration_seconds",
		Help:    "Time spent in a successful DoPut",
		Buckets: prometheus.DefBuckets,
	})
)
