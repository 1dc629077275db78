package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SigningOperations tracks keystore signing operations.
	SigningOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "signing_operations_total",
			Help:      "Total number of ECDSA signing operations",
		},
		[]string{"status"}, // success, failure
	)

	// SigningDuration tracks signing operation latency.
	SigningDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "signing_duration_seconds",
			Help:      "ECDSA signing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
		},
	)
)
