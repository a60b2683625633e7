// Package metrics exposes Prometheus collectors for decode activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beamdecode_searches_total",
			Help: "Total number of beam searches, by outcome",
		},
		[]string{"status"},
	)

	SearchSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beamdecode_search_steps",
			Help:    "Decode steps taken per search",
			Buckets: prometheus.LinearBuckets(10, 10, 12),
		},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beamdecode_search_duration_seconds",
			Help:    "Wall-clock duration of a search",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompletedHypotheses = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beamdecode_completed_hypotheses",
			Help:    "Hypotheses that reached the stop token per search",
			Buckets: prometheus.LinearBuckets(0, 1, 9),
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchesTotal,
		SearchSteps,
		SearchDuration,
		CompletedHypotheses,
		HTTPRequestsTotal,
	)
}

// ObserveSearch records the standard per-search observations in one place.
func ObserveSearch(status string, steps, completed int, seconds float64) {
	SearchesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		SearchSteps.Observe(float64(steps))
		CompletedHypotheses.Observe(float64(completed))
	}
	SearchDuration.Observe(seconds)
}
