package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

type metrics struct {
	plans         *prometheus.CounterVec
	planning      prometheus.Histogram
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	inflight      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		plans: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchplan",
			Subsystem: "engine",
			Name:      "plans_total",
			Help:      "Total number of query plans built, by status.",
		}, []string{"status"}),
		planning: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchplan",
			Subsystem: "engine",
			Name:      "planning_duration_seconds",
			Help:      "Time spent building query plans.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		queries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchplan",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Total number of executed queries, by backend and status.",
		}, []string{"backend", "status"}),
		queryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchplan",
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Time spent running queries against the backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		inflight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "searchplan",
			Subsystem: "engine",
			Name:      "inflight_queries",
			Help:      "Number of queries currently running against a backend.",
		}),
	}
}
