package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives job run outcomes from the Manager.
type Metrics interface {
	// ObserveRun records one finished run of job.
	ObserveRun(job string, items int, duration time.Duration, err error)
	// SetScheduled marks job as scheduled (true) or stopped (false).
	SetScheduled(job string, scheduled bool)
}

// PrometheusMetrics exports job runs as docflow_jobs_* series.
type PrometheusMetrics struct {
	runs        *prometheus.CounterVec
	items       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	scheduled   *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the job series with reg. A nil reg means the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_jobs_runs_total",
			Help: "Job runs by outcome (ok, error)",
		}, []string{"job", "outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_jobs_items_total",
			Help: "Instances recovered or archived by job",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_jobs_run_duration_seconds",
			Help:    "Duration of one job run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
		}, []string{"job"}),
		scheduled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docflow_jobs_scheduled",
			Help: "1 while the job is on the schedule",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docflow_jobs_last_success_timestamp_seconds",
			Help: "Unix time of the last run without error",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.items, m.duration, m.scheduled, m.lastSuccess)
	return m
}

// ObserveRun implements Metrics.
func (m *PrometheusMetrics) ObserveRun(job string, items int, duration time.Duration, err error) {
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, "error").Inc()
		return
	}
	m.runs.WithLabelValues(job, "ok").Inc()
	m.items.WithLabelValues(job).Add(float64(items))
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// SetScheduled implements Metrics.
func (m *PrometheusMetrics) SetScheduled(job string, scheduled bool) {
	v := 0.0
	if scheduled {
		v = 1
	}
	m.scheduled.WithLabelValues(job).Set(v)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRun(string, int, time.Duration, error) {}
func (NoopMetrics) SetScheduled(string, bool)                    {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
