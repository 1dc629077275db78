package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name exported by this package.
const namespace = "broker"

// Registry holds every metric this package registers. A dedicated
// registry (rather than prometheus.DefaultRegisterer) keeps broker
// metrics free of the Go-runtime collectors promauto would otherwise
// pull in, and lets Handler serve exactly this package's surface.
var Registry = prometheus.NewRegistry()
