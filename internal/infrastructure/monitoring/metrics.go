package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// Sandbox metrics
	SandboxesActive prometheus.Gauge
	SandboxStarts   *prometheus.CounterVec

	// Orchestration metrics
	Runs   *prometheus.CounterVec
	Shares *prometheus.CounterVec
	Forks  prometheus.Counter

	// Verification metrics
	VerificationWaits prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiddle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiddle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiddle_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiddle_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiddle_sessions_active",
				Help: "Number of live fiddle sessions",
			},
		),

		SandboxesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiddle_sandboxes_active",
				Help: "Number of running sandboxes",
			},
		),
		SandboxStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiddle_sandbox_starts_total",
				Help: "Total number of sandbox start attempts",
			},
			[]string{"runtime", "status"},
		),

		Runs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiddle_runs_total",
				Help: "Total number of script runs",
			},
			[]string{"outcome"},
		),
		Shares: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiddle_shares_total",
				Help: "Total number of share transactions",
			},
			[]string{"status"},
		),
		Forks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fiddle_forks_total",
				Help: "Total number of forks",
			},
		),

		VerificationWaits: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiddle_verification_waits",
				Help: "Number of pending verification-token waits",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiddle_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message in either direction
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordRun records a completed run with its outcome
// (exited, crashed, terminated, start_failed)
func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

// RecordShare records a share transaction result
func (m *Metrics) RecordShare(status string) {
	if m == nil {
		return
	}
	m.Shares.WithLabelValues(status).Inc()
}

// RecordFork records a successful fork
func (m *Metrics) RecordFork() {
	if m == nil {
		return
	}
	m.Forks.Inc()
}

// RecordSandboxStart records a sandbox start attempt
func (m *Metrics) RecordSandboxStart(runtime, status string) {
	if m == nil {
		return
	}
	m.SandboxStarts.WithLabelValues(runtime, status).Inc()
}

// AddSandboxes adjusts the running-sandbox gauge
func (m *Metrics) AddSandboxes(delta float64) {
	if m == nil {
		return
	}
	m.SandboxesActive.Add(delta)
}

// AddSessions adjusts the live-session gauge
func (m *Metrics) AddSessions(delta float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(delta)
}

// AddWSConnections adjusts the connection gauge
func (m *Metrics) AddWSConnections(delta float64) {
	if m == nil {
		return
	}
	m.WSConnections.Add(delta)
}

// AddVerificationWaits adjusts the pending-wait gauge
func (m *Metrics) AddVerificationWaits(delta float64) {
	if m == nil {
		return
	}
	m.VerificationWaits.Add(delta)
}
