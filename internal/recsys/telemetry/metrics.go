// Package telemetry holds the process-level Prometheus collectors for the
// recommendation service. Collectors are registered eagerly at init; if no
// /metrics endpoint is exposed the registration is harmless.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	predictionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recsys_prediction_latency_seconds",
		Help:    "End-to-end recommendation latency, labeled by assigned variant",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"variant"})

	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recsys_requests_total",
		Help: "Requests handled, labeled by processing stage",
	}, []string{"stage"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recsys_errors_total",
		Help: "Errors surfaced, labeled by processing stage",
	}, []string{"stage"})

	ingestEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recsys_ingest_events_total",
		Help: "Valid events persisted from the streaming bus, labeled by event type",
	}, []string{"type"})

	ingestDeadLetterTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recsys_ingest_deadletter_total",
		Help: "Bus messages rejected by schema validation and sent to the dead-letter sink",
	})

	backpressureTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recsys_ingest_backpressure_transitions_total",
		Help: "Pause/resume transitions of the bus consumer",
	}, []string{"state"})

	onlineWindowEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recsys_online_window_events",
		Help: "Events observed within the rolling online-metrics window, by type",
	}, []string{"type"})

	startTime = time.Now()

	uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "recsys_uptime_seconds",
		Help: "Seconds since process start",
	}, func() float64 { return time.Since(startTime).Seconds() })
)

func init() {
	prometheus.MustRegister(
		predictionLatency, requestsTotal, errorsTotal,
		ingestEventsTotal, ingestDeadLetterTotal, backpressureTransitions,
		onlineWindowEvents, uptime,
	)
}

// ObservePredictionLatency records one serving round trip.
func ObservePredictionLatency(variant string, d time.Duration) {
	predictionLatency.WithLabelValues(variant).Observe(d.Seconds())
}

// IncRequest counts a handled request for a stage.
func IncRequest(stage string) { requestsTotal.WithLabelValues(stage).Inc() }

// IncError counts a surfaced error for a stage. This is also the last-resort
// counter the HTTP layer bumps for unhandled internal errors.
func IncError(stage string) { errorsTotal.WithLabelValues(stage).Inc() }

// IncIngested counts one persisted bus event.
func IncIngested(eventType string) { ingestEventsTotal.WithLabelValues(eventType).Inc() }

// IncDeadLetter counts one dead-lettered bus message.
func IncDeadLetter() { ingestDeadLetterTotal.Inc() }

// IncBackpressure counts a pause or resume transition.
func IncBackpressure(state string) { backpressureTransitions.WithLabelValues(state).Inc() }

// SetOnlineWindowCount publishes the rolling-window count for an event type.
func SetOnlineWindowCount(eventType string, n int) {
	onlineWindowEvents.WithLabelValues(eventType).Set(float64(n))
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
