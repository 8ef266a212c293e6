package bptt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("wordlm-bptt")

var (
	windowsTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_windows_trained_total",
		Help: "Total number of outer windows trained",
	})

	segmentsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_segments_processed_total",
		Help: "Total number of sub-window backward passes",
	})

	tokensTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_tokens_trained_total",
		Help: "Total number of target tokens trained on",
	})

	windowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordlm_window_duration_seconds",
		Help:    "Time spent on one outer window including the optimizer step",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	gradNorm = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordlm_grad_norm",
		Help:    "Joint gradient norm before clipping",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	windowsClipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordlm_windows_clipped_total",
		Help: "Total number of windows whose gradients were clipped",
	})

	trainLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordlm_train_loss",
		Help: "Normalized loss of the last trained window",
	})

	// ValidationLoss is set by the epoch loop after each evaluation.
	ValidationLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordlm_validation_loss",
		Help: "Loss of the last validation pass",
	})

	learningRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wordlm_learning_rate",
		Help: "Current learning rate",
	})

	evalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wordlm_eval_duration_seconds",
		Help:    "Time spent in one evaluation pass",
		Buckets: prometheus.DefBuckets,
	})
)
