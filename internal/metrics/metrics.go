// Package metrics declares the Prometheus instruments for the status client.
//
// Metrics are registered on the default registry. Serve them with Handler
// when metrics_bind is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Push stream
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printfarm_stream_frames_received_total",
			Help: "Total number of frames read from the push stream",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printfarm_stream_frames_dropped_total",
			Help: "Total number of frames ignored by the dispatcher",
		},
		[]string{"reason"}, // "decode", "type", "printer_id"
	)

	StreamConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printfarm_stream_connect_attempts_total",
			Help: "Total number of push stream dial attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	StreamReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "printfarm_stream_reconnects_scheduled_total",
			Help: "Total number of fixed-delay reconnects scheduled",
		},
	)

	StreamState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printfarm_stream_state",
			Help: "Push stream state (0=disconnected, 1=connecting, 2=open, 3=closing, 4=closed_by_user)",
		},
	)

	// Cache
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printfarm_cache_writes_total",
			Help: "Total number of cache entries written",
		},
		[]string{"topic", "source"}, // source: "push", "poll"
	)

	// Poll source
	PollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printfarm_poll_requests_total",
			Help: "Total number of poll requests by endpoint and result",
		},
		[]string{"endpoint", "result"}, // result: "success", "failure", "rejected"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "printfarm_poll_breaker_state",
			Help: "Circuit breaker state per poll endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	RosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printfarm_roster_printers",
			Help: "Number of printers in the last roster poll",
		},
	)
)

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
