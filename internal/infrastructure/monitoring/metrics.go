package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "navigator"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Navigation metrics
	AttemptsTotal     *prometheus.CounterVec
	AttemptDuration   prometheus.Histogram
	AttemptsInFlight  prometheus.Gauge
	RecoveriesTotal   *prometheus.CounterVec
	ReloadsTotal      *prometheus.CounterVec
	HeartbeatFailures prometheus.Counter
	StaleEvents       prometheus.Counter
	Epoch             prometheus.Gauge

	// Engine metrics
	EngineCalls    *prometheus.CounterVec
	EngineDuration *prometheus.HistogramVec
	FetchesTotal   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON status API
type Snapshot struct {
	Attempts       int64            `json:"attempts"`
	Outcomes       map[string]int64 `json:"outcomes"`
	Recoveries     int64            `json:"recoveries"`
	Reloads        int64            `json:"reloads"`
	StaleEvents    int64            `json:"stale_events"`
	TotalRequests  int64            `json:"total_requests"`
	TotalErrors    int64            `json:"total_errors"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
	WSConnections  int64            `json:"ws_connections"`
	AvgAttemptSecs float64          `json:"avg_attempt_seconds"`
	attemptSecs    float64
}

// NewMetrics registers all collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		snapshot:  Snapshot{Outcomes: map[string]int64{}},

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Navigation attempts by terminal outcome",
			},
			[]string{"outcome"},
		),
		AttemptDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Time from attempt start to its terminal state",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		AttemptsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "attempts_in_flight",
				Help:      "Attempts started but not yet terminal",
			},
		),
		RecoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recoveries_total",
				Help:      "Recovery interventions by kind",
			},
			[]string{"kind"},
		),
		ReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Reloads issued by the recovery coordinator",
			},
			[]string{"reason"},
		),
		HeartbeatFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeat_failures_total",
				Help:      "Heartbeat probes that exceeded their timeout",
			},
		),
		StaleEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_events_total",
				Help:      "Engine events discarded for a superseded epoch",
			},
		),
		Epoch: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "epoch",
				Help:      "Live navigation epoch",
			},
		),

		EngineCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_calls_total",
				Help:      "Engine operations by status",
			},
			[]string{"engine", "method", "status"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Engine operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"engine", "method"},
		),
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Document fetches by host and status class",
			},
			[]string{"host", "class"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active event stream connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Event stream messages by type",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Navigator uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// AttemptStarted records a new navigation attempt
func (m *Metrics) AttemptStarted() {
	m.AttemptsInFlight.Inc()
	m.mu.Lock()
	m.snapshot.Attempts++
	m.mu.Unlock()
}

// AttemptFinished records the terminal outcome of an attempt
func (m *Metrics) AttemptFinished(outcome string, elapsed time.Duration) {
	m.AttemptsInFlight.Dec()
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.AttemptDuration.Observe(elapsed.Seconds())

	m.mu.Lock()
	m.snapshot.Outcomes[outcome]++
	m.snapshot.attemptSecs += elapsed.Seconds()
	m.mu.Unlock()
}

// Recovery records a soft, hard or stall recovery
func (m *Metrics) Recovery(kind string) {
	m.RecoveriesTotal.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Recoveries++
	m.mu.Unlock()
}

// Reload records a recovery reload
func (m *Metrics) Reload(reason string) {
	m.ReloadsTotal.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.Reloads++
	m.mu.Unlock()
}

// HeartbeatFailed records a timed-out heartbeat probe
func (m *Metrics) HeartbeatFailed() {
	m.HeartbeatFailures.Inc()
}

// StaleEvent records a discarded engine event
func (m *Metrics) StaleEvent() {
	m.StaleEvents.Inc()
	m.mu.Lock()
	m.snapshot.StaleEvents++
	m.mu.Unlock()
}

// EpochAdvanced tracks the live epoch
func (m *Metrics) EpochAdvanced(epoch uint64) {
	m.Epoch.Set(float64(epoch))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordEngineCall records an engine operation
func (m *Metrics) RecordEngineCall(engine, method, status string, duration time.Duration) {
	m.EngineCalls.WithLabelValues(engine, method, status).Inc()
	m.EngineDuration.WithLabelValues(engine, method).Observe(duration.Seconds())
}

// RecordFetch records a document fetch by HTTP status class ("2xx", "error", ...)
func (m *Metrics) RecordFetch(host, class string) {
	m.FetchesTotal.WithLabelValues(host, class).Inc()
}

// RecordWSMessage records an event stream message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments event stream connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements event stream connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns a copy of the current values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.Outcomes = make(map[string]int64, len(m.snapshot.Outcomes))
	var finished int64
	for k, v := range m.snapshot.Outcomes {
		snap.Outcomes[k] = v
		finished += v
	}
	if finished > 0 {
		snap.AvgAttemptSecs = m.snapshot.attemptSecs / float64(finished)
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
