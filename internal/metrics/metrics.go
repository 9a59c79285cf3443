package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the campaign runner. A nil
// *Metrics is valid and drops every observation, which is how disabled
// metrics are wired through the app.
type Metrics struct {
	// Job counters
	JobsProcessedTotal *prometheus.CounterVec
	JobsInFlight       prometheus.Gauge
	JobsByStatus       *prometheus.GaugeVec

	// Delivery counters
	RecipientsTotal      *prometheus.CounterVec
	BatchesTotal         *prometheus.CounterVec
	BatchDurationSeconds *prometheus.HistogramVec

	// Runner and trigger metrics
	RunnerPassDurationSeconds prometheus.Histogram
	TriggerRequestsTotal      *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

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
		// Job counters
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_jobs_processed_total",
				Help: "Total number of jobs finishing a processing pass, by outcome",
			},
			[]string{"outcome"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaign_jobs_in_flight",
				Help: "Number of jobs currently being processed",
			},
		),
		JobsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "campaign_jobs",
				Help: "Number of jobs in the store by status",
			},
			[]string{"status"},
		),

		// Delivery counters
		RecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_recipients_total",
				Help: "Total number of recipient deliveries attempted",
			},
			[]string{"channel", "provider", "result"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_batches_total",
				Help: "Total number of delivered batches",
			},
			[]string{"channel"},
		),
		BatchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaign_batch_duration_seconds",
				Help:    "Time spent delivering one batch",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),

		// Runner and trigger metrics
		RunnerPassDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaign_runner_pass_duration_seconds",
				Help:    "Wall-clock duration of one runner pass",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 1800},
			},
		),
		TriggerRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_trigger_requests_total",
				Help: "Total number of requests to the trigger endpoints",
			},
			[]string{"endpoint", "code"},
		),

		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaign_http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// System metrics
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaign_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaign_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaign_storage_used_bytes",
				Help: "Job store file size in bytes",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.JobsProcessedTotal,
		m.JobsInFlight,
		m.JobsByStatus,
		m.RecipientsTotal,
		m.BatchesTotal,
		m.BatchDurationSeconds,
		m.RunnerPassDurationSeconds,
		m.TriggerRequestsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobProcessed records a finished processing pass by outcome
func (m *Metrics) JobProcessed(outcome string) {
	if m == nil {
		return
	}
	m.JobsProcessedTotal.WithLabelValues(outcome).Inc()
}

// JobStarted marks a job as in flight
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

// JobFinished clears a job from the in-flight gauge
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
}

// AddRecipients records n recipient outcomes, result being sent or failed
func (m *Metrics) AddRecipients(channel, provider, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecipientsTotal.WithLabelValues(channel, provider, result).Add(float64(n))
}

// ObserveBatch records one delivered batch and its duration
func (m *Metrics) ObserveBatch(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(channel).Inc()
	m.BatchDurationSeconds.WithLabelValues(channel).Observe(d.Seconds())
}

// ObservePass records the duration of one runner pass
func (m *Metrics) ObservePass(d time.Duration) {
	if m == nil {
		return
	}
	m.RunnerPassDurationSeconds.Observe(d.Seconds())
}

// IncTrigger counts a trigger endpoint request by response code
func (m *Metrics) IncTrigger(endpoint string, code int) {
	if m == nil {
		return
	}
	m.TriggerRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}
