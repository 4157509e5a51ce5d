package elastic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requestDuration  *prometheus.HistogramVec
	searchTypeErrors prometheus.Counter
	breakerState     prometheus.Gauge
}

// newMetrics registers the metrics of one backend. reg is expected to carry
// the backend name as constant label.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchplan",
			Subsystem: "elastic",
			Name:      "msearch_duration_seconds",
			Help:      "Duration of multi-search requests, by status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		searchTypeErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "searchplan",
			Subsystem: "elastic",
			Name:      "search_type_errors_total",
			Help:      "Total number of search types which failed to generate or execute.",
		}),
		breakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "searchplan",
			Subsystem: "elastic",
			Name:      "circuit_breaker_open",
			Help:      "Whether the circuit breaker in front of the cluster is open (1) or not (0).",
		}),
	}
}
