// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	affected    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job collectors. A nil registerer selects the
// process-wide default registerer, registered once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmu_jobs_total",
			Help: "Job executions by job and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmu_jobs_failures_total",
			Help: "Failed job executions.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "danmu_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "danmu_jobs_affected_total",
			Help: "Rows or buckets changed by background jobs.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "danmu_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.affected, m.lastSuccess)
	return m
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. It is safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	t := &Tracker{metrics: m, job: job}
	if m != nil {
		t.start = m.now()
	}
	return t
}

// End records the outcome of the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	end := m.now()
	m.duration.WithLabelValues(t.job).Observe(end.Sub(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, StatusFailure).Inc()
		m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, StatusSuccess).Inc()
	m.lastSuccess.WithLabelValues(t.job).Set(float64(end.Unix()))
	return nil
}

// AddAffected records how many rows or buckets a job run changed.
func (m *Metrics) AddAffected(job string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.affected.WithLabelValues(job).Add(float64(count))
}
