// Package prometheus registers and exposes the platform metrics.  The
// Metrics struct satisfies the observer interfaces of the dispatch and
// evaluation packages so domain code never imports the prometheus client.
package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every registered collector.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP layer
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Dispatch layer
	sendsTotal          *prometheus.CounterVec
	sendDuration        *prometheus.HistogramVec
	queueDepth          *prometheus.GaugeVec
	rateWindowSuspended *prometheus.CounterVec

	// Experimentation layer
	eventsRecorded *prometheus.CounterVec
	testsCompleted *prometheus.CounterVec
}

// New registers all collectors under the given namespace on a private
// registry, keeping the exposition free of default-registry noise from
// other libraries.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_sends_total",
			Help:      "Delivery attempts by account and outcome.",
		}, []string{"account", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_send_duration_seconds",
			Help:      "Time from dequeue to delivery outcome.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 1800},
		}, []string{"account", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Pending queue items by account and priority.",
		}, []string{"account", "priority"}),
		rateWindowSuspended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_rate_window_suspensions_total",
			Help:      "Times an account worker suspended on an exhausted daily window.",
		}, []string{"account"}),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_recorded_total",
			Help:      "Performance events recorded by type.",
		}, []string{"type"}),
		testsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiment_tests_completed_total",
			Help:      "Tests completed by completion reason.",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.httpRequestsTotal, m.httpRequestDuration,
		m.sendsTotal, m.sendDuration, m.queueDepth, m.rateWindowSuspended,
		m.eventsRecorded, m.testsCompleted,
	)
	return m
}

// Handler returns the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveSend implements dispatch.MetricsRecorder.
func (m *Metrics) ObserveSend(account string, outcome string, seconds float64) {
	m.sendsTotal.WithLabelValues(account, outcome).Inc()
	m.sendDuration.WithLabelValues(account, outcome).Observe(seconds)
}

// SetQueueDepth implements dispatch.MetricsRecorder.
func (m *Metrics) SetQueueDepth(account string, priority string, depth int) {
	m.queueDepth.WithLabelValues(account, priority).Set(float64(depth))
}

// RateWindowSuspended implements dispatch.MetricsRecorder.
func (m *Metrics) RateWindowSuspended(account string) {
	m.rateWindowSuspended.WithLabelValues(account).Inc()
}

// EventRecorded counts one performance event.
func (m *Metrics) EventRecorded(eventType string) {
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

// TestCompleted implements evaluation.CompletionObserver.
func (m *Metrics) TestCompleted(reason string) {
	m.testsCompleted.WithLabelValues(reason).Inc()
}
