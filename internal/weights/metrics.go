package weights

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_checkpoint_writes_total",
		Help: "Total number of model snapshots written",
	})

	checkpointBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordlm_checkpoint_bytes",
		Help: "Size of the last model snapshot written",
	})

	checkpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordlm_checkpoint_duration_seconds",
		Help:    "Time spent encoding and writing a model snapshot",
		Buckets: prometheus.DefBuckets,
	})
)
