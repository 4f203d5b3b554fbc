package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonCanceled         = "canceled"
	JobReasonUnknown          = "unknown"

	DropReasonQueueFull = "queue_full"
	DropReasonInFlight  = "in_flight"
	DropReasonStopped   = "stopped"
)

// WorkerMetrics captures background worker health: provisioning jobs and
// their queue.
type WorkerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec
	jobsDropped *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intentflow_worker_job_runs_total",
		Help: "Background job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intentflow_worker_job_duration_seconds",
		Help:    "Background job latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intentflow_worker_job_errors_total",
		Help: "Background job errors by low-cardinality reason.",
	}, []string{"job", "reason"})
	jobsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intentflow_worker_jobs_dropped_total",
		Help: "Jobs not enqueued, by reason.",
	}, []string{"job", "reason"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intentflow_worker_queue_depth",
		Help: "Jobs waiting for a provisioning worker.",
	})

	reg.MustRegister(jobRuns, jobDuration, jobErrors, jobsDropped, queueDepth)

	return &WorkerMetrics{
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
		jobErrors:   jobErrors,
		jobsDropped: jobsDropped,
		queueDepth:  queueDepth,
	}
}

// ObserveJob records one job execution. A nil err counts as success.
func (m *WorkerMetrics) ObserveJob(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
	}
}

func (m *WorkerMetrics) IncDropped(job, reason string) {
	if m == nil {
		return
	}
	m.jobsDropped.WithLabelValues(job, reason).Inc()
}

func (m *WorkerMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ClassifyJobReason maps an error to a bounded label value.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return JobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return JobReasonCanceled
	default:
		return JobReasonUnknown
	}
}
