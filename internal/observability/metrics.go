package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	requestsTotal         *prometheus.CounterVec
	latencySeconds        *prometheus.HistogramVec
	errorsTotal           *prometheus.CounterVec
	realtimeConnections   prometheus.Gauge
	realtimeEventsTotal   *prometheus.CounterVec
	realtimeDroppedTotal  prometheus.Counter
	submissionsTotal      *prometheus.CounterVec
	statusTransitionTotal *prometheus.CounterVec
	gradesTotal           *prometheus.CounterVec
	sideEffectFailures    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the realtime hub.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lab_realtime_connections",
			Help: "Number of websocket connections currently attached to the hub.",
		})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_realtime_events_total",
			Help: "Realtime events delivered by the hub, by event name and origin.",
		}, []string{"event", "origin"})

		realtimeDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_realtime_dropped_total",
			Help: "Realtime frames dropped because a connection send buffer was full.",
		})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_submissions_total",
			Help: "Submissions created, labelled by lateness.",
		}, []string{"late"})

		statusTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_status_transitions_total",
			Help: "Workflow transitions applied, by entity and event.",
		}, []string{"entity", "event"})

		gradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_grades_total",
			Help: "Grades created or updated.",
		}, []string{"operation"})

		sideEffectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_side_effect_failures_total",
			Help: "Swallowed failures of notifications, broadcasts and audit writes.",
		}, []string{"kind"})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			realtimeConnections, realtimeEventsTotal, realtimeDroppedTotal,
			submissionsTotal, statusTransitionTotal, gradesTotal, sideEffectFailures,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// RealtimeConnections tracks open websocket connections.
func RealtimeConnections() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnections
}

// RealtimeEvents counts delivered realtime events.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimeDropped counts frames dropped for slow consumers.
func RealtimeDropped() prometheus.Counter {
	RegisterMetrics()
	return realtimeDroppedTotal
}

// Submissions counts created submissions.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// StatusTransitions counts applied workflow transitions.
func StatusTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return statusTransitionTotal
}

// Grades counts grade writes.
func Grades() *prometheus.CounterVec {
	RegisterMetrics()
	return gradesTotal
}

// SideEffectFailures counts swallowed side-effect errors.
func SideEffectFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return sideEffectFailures
}
