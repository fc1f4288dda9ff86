package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for sendry-lab
type Metrics struct {
	// Monitoring
	MonitoringChecksTotal          *prometheus.CounterVec
	MonitoringCheckDurationSeconds prometheus.Histogram
	MonitoredCampaigns             prometheus.Gauge

	// Alerts
	AlertsDispatchedTotal *prometheus.CounterVec
	AlertsSuppressedTotal *prometheus.CounterVec
	AlertsFailedTotal     *prometheus.CounterVec

	// Winner selection
	WinnerAnalysesTotal   *prometheus.CounterVec
	WinnersCommittedTotal *prometheus.CounterVec

	// Generation and optimization
	VariantsGeneratedTotal        *prometheus.CounterVec
	RecommendationsGeneratedTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MonitoringChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_monitoring_checks_total",
				Help: "Total number of campaign monitoring checks",
			},
			[]string{"outcome"},
		),
		MonitoringCheckDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sendry_lab_monitoring_check_duration_seconds",
				Help:    "Duration of a campaign monitoring check in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		MonitoredCampaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendry_lab_monitored_campaigns",
				Help: "Number of campaigns currently monitored",
			},
		),

		AlertsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_alerts_dispatched_total",
				Help: "Total number of alerts delivered to a notification channel",
			},
			[]string{"alert_type", "channel"},
		),
		AlertsSuppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_alerts_suppressed_total",
				Help: "Total number of alerts suppressed by channel cooldown",
			},
			[]string{"alert_type", "channel"},
		),
		AlertsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_alerts_failed_total",
				Help: "Total number of alerts that failed to send",
			},
			[]string{"alert_type", "channel"},
		),

		WinnerAnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_winner_analyses_total",
				Help: "Total number of winner analyses by recommendation",
			},
			[]string{"recommendation"},
		),
		WinnersCommittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_winners_committed_total",
				Help: "Total number of campaigns completed with a winner",
			},
			[]string{"action"},
		),

		VariantsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_variants_generated_total",
				Help: "Total number of generated variants",
			},
			[]string{"test_type"},
		),
		RecommendationsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_recommendations_generated_total",
				Help: "Total number of optimization recommendations",
			},
			[]string{"type"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sendry_lab_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendry_lab_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendry_lab_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendry_lab_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendry_lab_storage_used_bytes",
				Help: "Record store file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MonitoringChecksTotal,
		m.MonitoringCheckDurationSeconds,
		m.MonitoredCampaigns,
		m.AlertsDispatchedTotal,
		m.AlertsSuppressedTotal,
		m.AlertsFailedTotal,
		m.WinnerAnalysesTotal,
		m.WinnersCommittedTotal,
		m.VariantsGeneratedTotal,
		m.RecommendationsGeneratedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMonitoringCheck counts a monitoring check by outcome (ok, skipped, error)
func IncMonitoringCheck(outcome string) {
	m := Global()
	if m != nil {
		m.MonitoringChecksTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveMonitoringCheck records the duration of a monitoring check
func ObserveMonitoringCheck(seconds float64) {
	m := Global()
	if m != nil {
		m.MonitoringCheckDurationSeconds.Observe(seconds)
	}
}

// SetMonitoredCampaigns sets the monitored campaign gauge
func SetMonitoredCampaigns(n int) {
	m := Global()
	if m != nil {
		m.MonitoredCampaigns.Set(float64(n))
	}
}

// IncAlertDispatched increments the dispatched alert counter
func IncAlertDispatched(alertType, channel string) {
	m := Global()
	if m != nil {
		m.AlertsDispatchedTotal.WithLabelValues(alertType, channel).Inc()
	}
}

// IncAlertSuppressed increments the suppressed alert counter
func IncAlertSuppressed(alertType, channel string) {
	m := Global()
	if m != nil {
		m.AlertsSuppressedTotal.WithLabelValues(alertType, channel).Inc()
	}
}

// IncAlertFailed increments the failed alert counter
func IncAlertFailed(alertType, channel string) {
	m := Global()
	if m != nil {
		m.AlertsFailedTotal.WithLabelValues(alertType, channel).Inc()
	}
}

// IncWinnerAnalysis increments the winner analysis counter
func IncWinnerAnalysis(recommendation string) {
	m := Global()
	if m != nil {
		m.WinnerAnalysesTotal.WithLabelValues(recommendation).Inc()
	}
}

// IncWinnerCommitted increments the committed winner counter
func IncWinnerCommitted(action string) {
	m := Global()
	if m != nil {
		m.WinnersCommittedTotal.WithLabelValues(action).Inc()
	}
}

// AddVariantsGenerated adds n generated variants for a test type
func AddVariantsGenerated(testType string, n int) {
	m := Global()
	if m != nil && n > 0 {
		m.VariantsGeneratedTotal.WithLabelValues(testType).Add(float64(n))
	}
}

// IncRecommendation increments the recommendation counter
func IncRecommendation(recType string) {
	m := Global()
	if m != nil {
		m.RecommendationsGeneratedTotal.WithLabelValues(recType).Inc()
	}
}
