package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts tracks login attempts started.
	LoginAttempts = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts initiated",
		},
	)

	// LoginCompleted tracks completed logins by outcome.
	LoginCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_completed_total",
			Help:      "Total number of logins completed",
		},
		[]string{"status"}, // second_factor_required, success, failure
	)

	// LoginFailed tracks failed logins by error code.
	LoginFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_failed_total",
			Help:      "Total number of failed logins by broker error code",
		},
		[]string{"error_code"},
	)

	// LoginDuration tracks login stage durations.
	LoginDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_duration_seconds",
			Help:      "Login stage duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"stage"}, // credentials, second_factor
	)
)
