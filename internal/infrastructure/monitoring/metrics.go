package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
)

var _ relay.Observer = (*Metrics)(nil)

var sessionStates = []relay.State{relay.StateUnbound, relay.StateBound, relay.StateLoaded, relay.StateReady}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Relay metrics
	RelayRequests *prometheus.CounterVec
	RelayDuration *prometheus.HistogramVec
	RelayInflight *prometheus.GaugeVec
	RelayMessages *prometheus.CounterVec
	Queued        prometheus.Gauge
	Pending       prometheus.Gauge
	SessionStates *prometheus.GaugeVec

	// Direct fallback metrics
	DirectCalls    *prometheus.CounterVec
	DirectDuration prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	RelayRequests     int64   `json:"relay_requests"`
	RelayFailures     int64   `json:"relay_failures"`
	QueueDepth        int64   `json:"queue_depth"`
	Pending           int64   `json:"pending"`
	SessionState      string  `json:"session_state"`
	ActiveConnections int64   `json:"active_connections"`
	AvgRelaySeconds   float64 `json:"avg_relay_seconds"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	relaySeconds float64
}

// NewMetrics creates a metrics collector registered with reg. A nil reg
// registers with the process default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		snapshot:  MetricsSnapshot{SessionState: relay.StateUnbound.String()},

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitquest_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fitquest_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fitquest_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fitquest_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Relay metrics
		RelayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitquest_relay_requests_total",
				Help: "Relayed requests by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		RelayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fitquest_relay_request_duration_seconds",
				Help:    "Time from submit to settled outcome",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"transport"},
		),
		RelayInflight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fitquest_relay_inflight",
				Help: "Relayed requests awaiting an outcome",
			},
			[]string{"transport"},
		),
		RelayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitquest_relay_messages_total",
				Help: "Inbound sandbox messages by kind",
			},
			[]string{"kind"},
		),
		Queued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitquest_relay_queue_depth",
				Help: "Scripts held until the bridge is ready",
			},
		),
		Pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitquest_relay_pending",
				Help: "Entries in the pending request registry",
			},
		),
		SessionStates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fitquest_relay_session_state",
				Help: "1 for the current sandbox session state",
			},
			[]string{"state"},
		),

		// Direct fallback metrics
		DirectCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitquest_direct_calls_total",
				Help: "Direct fallback calls by outcome",
			},
			[]string{"outcome"},
		),
		DirectDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fitquest_direct_call_duration_seconds",
				Help:    "Direct fallback call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fitquest_ws_connections",
				Help: "Number of active sandbox bridge connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitquest_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fitquest_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	m.setState(relay.StateUnbound)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RequestStarted implements relay.Observer.
func (m *Metrics) RequestStarted(t relay.Transport) {
	m.RelayInflight.WithLabelValues(t.String()).Inc()
}

// RequestFinished implements relay.Observer.
func (m *Metrics) RequestFinished(t relay.Transport, outcome string, elapsed time.Duration) {
	m.RelayInflight.WithLabelValues(t.String()).Dec()
	m.RelayRequests.WithLabelValues(t.String(), outcome).Inc()
	m.RelayDuration.WithLabelValues(t.String()).Observe(elapsed.Seconds())

	m.mu.Lock()
	m.snapshot.RelayRequests++
	m.snapshot.relaySeconds += elapsed.Seconds()
	if outcome != "success" {
		m.snapshot.RelayFailures++
	}
	m.mu.Unlock()
}

// MessageRouted implements relay.Observer.
func (m *Metrics) MessageRouted(kind relay.MessageKind) {
	m.RelayMessages.WithLabelValues(kind.String()).Inc()
}

// QueueDepth implements relay.Observer.
func (m *Metrics) QueueDepth(depth int) {
	m.Queued.Set(float64(depth))
	m.mu.Lock()
	m.snapshot.QueueDepth = int64(depth)
	m.mu.Unlock()
}

// PendingCount implements relay.Observer.
func (m *Metrics) PendingCount(count int) {
	m.Pending.Set(float64(count))
	m.mu.Lock()
	m.snapshot.Pending = int64(count)
	m.mu.Unlock()
}

// SessionState implements relay.Observer.
func (m *Metrics) SessionState(state relay.State) {
	m.setState(state)
}

func (m *Metrics) setState(state relay.State) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionStates.WithLabelValues(s.String()).Set(v)
	}
	m.mu.Lock()
	m.snapshot.SessionState = state.String()
	m.mu.Unlock()
}

// RecordDirectCall records one direct fallback call
func (m *Metrics) RecordDirectCall(outcome string, duration time.Duration) {
	m.DirectCalls.WithLabelValues(outcome).Inc()
	m.DirectDuration.Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON stats endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.RelayRequests > 0 {
		s.AvgRelaySeconds = s.relaySeconds / float64(s.RelayRequests)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
