package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepDuration tracks time spent in one Step call over a token slice.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wordlm_model_step_duration_seconds",
		Help:    "Time spent in one model step over a token slice",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"cell", "recording"})
)
