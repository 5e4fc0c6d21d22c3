// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Feed pull metrics
	PullRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_pull_runs_total",
			Help: "Total number of feed pull runs",
		},
		[]string{"status"},
	)

	PullItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_pull_items_total",
			Help: "Feed entries handled by pull runs, by outcome",
		},
		[]string{"outcome"},
	)

	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_feed_fetches_total",
			Help: "Feed fetches by source and status",
		},
		[]string{"source", "status"},
	)

	PullDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsdesk_pull_duration_seconds",
			Help:    "Feed pull run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rewrite metrics
	Rewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_rewrites_total",
			Help: "Rewrite attempts by outcome",
		},
		[]string{"outcome"},
	)

	RewriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsdesk_rewrite_duration_seconds",
			Help:    "Rewrite call duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Publish metrics
	NewsSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_news_saves_total",
			Help: "Publish store saves by outcome",
		},
		[]string{"outcome"},
	)

	NewsVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsdesk_news_version",
			Help: "Current publish store version",
		},
	)

	IncomingItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsdesk_incoming_items",
			Help: "Number of items in the incoming queue after the last pull",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_events_published_total",
			Help: "Events published to the message bus",
		},
		[]string{"subject", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome maps an error to the ok/error label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
