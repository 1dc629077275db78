package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsOpened tracks dial attempts by outcome.
	ConnectionsOpened = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "opened_total",
			Help:      "Total number of stream connection dial attempts",
		},
		[]string{"status"}, // success, failure
	)

	// ConnectionsActive tracks whether the connection is currently up (0 or 1).
	ConnectionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "active",
			Help:      "1 if the stream connection is currently connected, 0 otherwise",
		},
	)

	// ReconnectsTotal tracks connection-dead events: a stale heartbeat or a socket read error.
	ReconnectsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of times the connection was declared dead",
		},
		[]string{"cause"}, // stale_heartbeat, read_error
	)

	// HeartbeatAgeSeconds tracks seconds since the last frame was read.
	HeartbeatAgeSeconds = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "heartbeat_age_seconds",
			Help:      "Seconds elapsed since the last frame was received on the connection",
		},
	)

	// SubscriptionsActive tracks currently registered subscription ids.
	SubscriptionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Number of currently registered subscriptions",
		},
	)

	// SubscriptionsCreated tracks subscriptions opened, by topic.
	SubscriptionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "created_total",
			Help:      "Total number of subscriptions created",
		},
		[]string{"topic"},
	)

	// AwaitDuration tracks how long awaitAnswer/awaitEvent calls take to resolve.
	AwaitDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "await_duration_seconds",
			Help:      "Duration of awaitAnswer/awaitEvent calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms to ~41s
		},
		[]string{"kind", "outcome"}, // answer/event, resolved/timeout/error
	)
)
