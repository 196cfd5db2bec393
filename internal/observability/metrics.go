// Package observability exposes the bridge's Prometheus metrics.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	activeStreams   prometheus.Gauge
	streamEvents    *prometheus.CounterVec

	connectionsActive prometheus.Gauge
	connectTotal      *prometheus.CounterVec
	toolCallsTotal    *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionSaveDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_requests_total",
					Help: "Agent run requests by outcome.",
				},
				[]string{"status"},
			),
			requestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_request_duration_seconds",
					Help:    "Wall time of agent run requests, including streaming.",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
			),
			activeStreams: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_streams_active",
					Help: "Response streams currently open.",
				},
			),
			streamEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_events_total",
					Help: "Events written to response streams by event type.",
				},
				[]string{"type"},
			),
			connectionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcp_connections_active",
					Help: "Registered MCP provider connections.",
				},
			),
			connectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_connect_total",
					Help: "MCP provider connect attempts by outcome.",
				},
				[]string{"status"},
			),
			toolCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcp_tool_calls_total",
					Help: "MCP tool calls by provider and outcome.",
				},
				[]string{"provider", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcp_tool_call_duration_seconds",
					Help:    "MCP tool call round trip in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Sessions currently held by the session store.",
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session message history save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.requestsTotal,
			m.requestDuration,
			m.activeStreams,
			m.streamEvents,
			m.connectionsActive,
			m.connectTotal,
			m.toolCallsTotal,
			m.toolCallDuration,
			m.activeSessions,
			m.sessionSaveDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a finished agent request. status is one of
// "success", "rejected", "stream_error" or "client_gone".
func RecordRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func StreamOpened() {
	getMetrics().activeStreams.Inc()
}

func StreamClosed() {
	getMetrics().activeStreams.Dec()
}

func RecordStreamEvent(eventType string) {
	getMetrics().streamEvents.WithLabelValues(eventType).Inc()
}

func SetActiveConnections(n int) {
	getMetrics().connectionsActive.Set(float64(n))
}

func RecordConnect(success bool) {
	getMetrics().connectTotal.WithLabelValues(statusLabel(success)).Inc()
}

func RecordToolCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.toolCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}
