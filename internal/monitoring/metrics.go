package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsDisposed prometheus.Counter
	OrphansReaped    prometheus.Counter

	// Sanitization metrics
	SanitizeRequests prometheus.Counter
	SanitizeModified prometheus.Counter
	SanitizeDuration prometheus.Histogram
	ParamsStripped   prometheus.Counter

	// Download metrics
	DownloadsTotal   *prometheus.CounterVec
	DownloadsActive  prometheus.Gauge
	QuarantinedBytes prometheus.Counter

	startTime time.Time

	// Snapshot for the shell's JSON stats endpoint.
	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current values for the JSON stats API.
type Snapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	ActiveSessions   int64   `json:"active_sessions"`
	URLsSanitized    int64   `json:"urls_sanitized"`
	URLsModified     int64   `json:"urls_modified"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	AvgRequestMillis float64 `json:"avg_request_ms"`

	totalDuration float64
	requestCount  int64
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics returns the process-wide metrics collector. Series register on
// the default Prometheus registry, which permits each name exactly once, so
// every caller shares one instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_sessions_active",
				Help: "Number of live ephemeral sessions",
			},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsDisposed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sessions_disposed_total",
				Help: "Total number of sessions disposed",
			},
		),
		OrphansReaped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_orphans_reaped_total",
				Help: "Total number of orphaned storage directories reclaimed",
			},
		),

		SanitizeRequests: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sanitize_requests_total",
				Help: "Total number of sanitize calls",
			},
		),
		SanitizeModified: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sanitize_modified_total",
				Help: "Total number of URLs with parameters stripped",
			},
		),
		SanitizeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "core_sanitize_duration_seconds",
				Help:    "Sanitize call duration in seconds",
				Buckets: []float64{.00001, .0001, .0005, .001, .005, .01, .05},
			},
		),
		ParamsStripped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_sanitize_params_stripped_total",
				Help: "Total number of tracking parameters removed",
			},
		),

		DownloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_downloads_total",
				Help: "Total number of downloads by outcome",
			},
			[]string{"outcome"},
		),
		DownloadsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_downloads_active",
				Help: "Number of downloads pending, transferring, or quarantined",
			},
		),
		QuarantinedBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "core_quarantined_bytes_total",
				Help: "Total bytes accepted into quarantine",
			},
		),
	}
}

// RecordHTTPRequest records a control API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordSanitize records one sanitize call.
func (m *Metrics) RecordSanitize(modified bool, removed int, duration time.Duration) {
	m.SanitizeRequests.Inc()
	m.SanitizeDuration.Observe(duration.Seconds())
	if modified {
		m.SanitizeModified.Inc()
		m.ParamsStripped.Add(float64(removed))
	}

	m.mu.Lock()
	m.snapshot.URLsSanitized++
	if modified {
		m.snapshot.URLsModified++
	}
	m.mu.Unlock()
}

// RecordDownload records a download outcome transition.
func (m *Metrics) RecordDownload(outcome string) {
	m.DownloadsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionCreated counts one successful session creation.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDisposed counts one completed session disposal.
func (m *Metrics) RecordSessionDisposed() {
	m.SessionsDisposed.Inc()
}

// RecordOrphansReaped counts directories reclaimed by an orphan sweep.
func (m *Metrics) RecordOrphansReaped(count int) {
	if count > 0 {
		m.OrphansReaped.Add(float64(count))
	}
}

// AddQuarantinedBytes counts bytes accepted into quarantine.
func (m *Metrics) AddQuarantinedBytes(n int64) {
	if n > 0 {
		m.QuarantinedBytes.Add(float64(n))
	}
}

// SetSessionsActive sets the live session gauge.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// SetDownloadsActive sets the active download gauge.
func (m *Metrics) SetDownloadsActive(count int) {
	m.DownloadsActive.Set(float64(count))
}

// GetSnapshot returns current values for the JSON stats API.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	if snap.requestCount > 0 {
		snap.AvgRequestMillis = snap.totalDuration / float64(snap.requestCount) * 1000
	}
	return snap
}
