package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceived tracks frames read off the socket by code.
	FramesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Total number of frames received, by frame code",
		},
		[]string{"code"}, // A, D, C, E
	)

	// FrameDecodeErrors tracks frame parsing/decoding failures.
	FrameDecodeErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "decode_errors_total",
			Help:      "Total number of frames that failed to parse or decode",
		},
		[]string{"reason"}, // malformed, decode_failed
	)

	// FrameDroppedUnregistered tracks frames for a subscription id with no listener.
	FrameDroppedUnregistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "dropped_unregistered_total",
			Help:      "Total number of frames dropped for an unregistered subscription id",
		},
	)

	// FrameProcessingDuration tracks per-frame dispatch latency.
	FrameProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processing_duration_seconds",
			Help:      "Per-frame parse-decode-dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~20ms
		},
	)

	// FrameSize tracks raw frame payload sizes.
	FrameSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "size_bytes",
			Help:      "Size of raw frames read from the socket",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10), // 16B to 4MB
		},
	)
)
