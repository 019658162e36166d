package assistd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpilot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetpilot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	answersGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetpilot_answers_generated_total",
			Help: "Total streamed answers by outcome",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	answerChars = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetpilot_answer_chars",
			Help:    "Streamed answer length in characters",
			Buckets: prometheus.ExponentialBuckets(32, 2, 10),
		},
	)

	pushSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetpilot_push_subscribers",
			Help: "Currently attached push subscribers",
		},
	)
)
