package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var detectionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kestrel_detections_total",
	Help: "Number of accounts classified",
}, []string{"method", "verdict"})

var detectionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kestrel_detection_errors_total",
	Help: "Number of accounts which failed classification",
}, []string{"reason"})

var detectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "kestrel_detection_duration_sec",
	Help:    "Duration of single account classification",
	Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
}, []string{"method"})

var batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kestrel_batch_size",
	Help:    "Number of accounts per batch",
	Buckets: prometheus.ExponentialBuckets(1, 4, 8),
})

var trainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "kestrel_training_duration_sec",
	Help: "Duration of model training",
}, []string{"algorithm"})

var modelSwapCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kestrel_model_swaps_total",
	Help: "Number of scorer replacements",
}, []string{"mode"})

var ruleReloadCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kestrel_rule_reloads_total",
	Help: "Number of rule engine replacements",
})
