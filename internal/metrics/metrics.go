// Package metrics exposes Prometheus instruments for screening runs,
// position tracking and their dependencies, plus the health report served
// by the API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the screener.
type Metrics struct {
	// Screening runs
	RunsTotal       *prometheus.CounterVec   // labels: strategy, outcome=ok|aborted|error
	RunDuration     *prometheus.HistogramVec // labels: strategy
	CandidatesTotal *prometheus.CounterVec   // labels: strategy, result
	SignalsTotal    *prometheus.CounterVec   // labels: strategy, direction

	// Market data
	FetchDuration *prometheus.HistogramVec // labels: provider, call
	FetchErrors   *prometheus.CounterVec   // labels: provider, kind=no_data|transient

	// Position tracking
	PositionsOpen    *prometheus.GaugeVec   // labels: strategy
	TransitionsTotal *prometheus.CounterVec // labels: strategy, kind
	SweepDuration    prometheus.Histogram

	// Notifications
	NotificationsTotal *prometheus.CounterVec // labels: kind, result=sent|failed

	// Store
	StoreCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	StoreCircuitTrips prometheus.Counter

	// Scheduler
	JobsFired   *prometheus.CounterVec // labels: job
	JobsSkipped *prometheus.CounterVec // labels: job, reason
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the global default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_runs_total",
			Help: "Completed screening runs by outcome",
		}, []string{"strategy", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_run_duration_seconds",
			Help:    "Wall time of a screening run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"strategy"}),
		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_candidates_total",
			Help: "Candidates evaluated by result (passed, rejected, skipped kinds)",
		}, []string{"strategy", "result"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_signals_total",
			Help: "Signals emitted after ranking and deduplication",
		}, []string{"strategy", "direction"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_fetch_duration_seconds",
			Help:    "Market data call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "call"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_fetch_errors_total",
			Help: "Market data failures by kind",
		}, []string{"provider", "kind"}),

		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screener_positions_open",
			Help: "Currently open positions",
		}, []string{"strategy"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_position_events_total",
			Help: "Position events (partial targets and terminal transitions)",
		}, []string{"strategy", "kind"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_sweep_duration_seconds",
			Help:    "Wall time of a monitor sweep",
			Buckets: prometheus.DefBuckets,
		}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_notifications_total",
			Help: "Notification attempts by result",
		}, []string{"kind", "result"}),

		StoreCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_store_circuit_breaker_state",
			Help: "Position store circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		StoreCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_store_circuit_breaker_trips_total",
			Help: "Times the position store circuit breaker tripped open",
		}),

		JobsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_jobs_fired_total",
			Help: "Scheduled jobs started",
		}, []string{"job"}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_jobs_skipped_total",
			Help: "Scheduled slots not run (already claimed, non-trading day)",
		}, []string{"job", "reason"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.CandidatesTotal,
		m.SignalsTotal,
		m.FetchDuration,
		m.FetchErrors,
		m.PositionsOpen,
		m.TransitionsTotal,
		m.SweepDuration,
		m.NotificationsTotal,
		m.StoreCircuitState,
		m.StoreCircuitTrips,
		m.JobsFired,
		m.JobsSkipped,
	)
	return m
}

// ObserveFetch records one market data call. Safe on a nil receiver.
func (m *Metrics) ObserveFetch(provider, call string, start time.Time, errKind string) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(provider, call).Observe(time.Since(start).Seconds())
	if errKind != "" {
		m.FetchErrors.WithLabelValues(provider, errKind).Inc()
	}
}

// Candidate counts one evaluated candidate. Safe on a nil receiver.
func (m *Metrics) Candidate(strategy, result string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(strategy, result).Inc()
}

// Notification counts one delivery attempt. Safe on a nil receiver.
func (m *Metrics) Notification(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// Transition counts one position event. Safe on a nil receiver.
func (m *Metrics) Transition(strategy, kind string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(strategy, kind).Inc()
}
