package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "jobcore"

// Metrics holds all Prometheus metrics for the job queue, scheduler and
// event dispatcher. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Job metrics
	JobsEnqueued      *prometheus.CounterVec
	JobsProcessed     *prometheus.CounterVec
	JobsFailed        *prometheus.CounterVec
	JobsRetried       *prometheus.CounterVec
	JobProcessingTime *prometheus.HistogramVec

	// Queue metrics
	QueueSize prometheus.Gauge
	DLQSize   prometheus.Gauge

	// Worker metrics
	WorkerCount   prometheus.Gauge
	ActiveWorkers prometheus.Gauge

	// Scheduler metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Event metrics
	EventsEmitted      *prometheus.CounterVec
	SubscriberFailures *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec

	// API metrics
	APIRequestCount    *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewMetrics creates all metrics and registers them with reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated.
func NewMetrics(reg *prometheus.Registry, logger *zap.Logger) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		gatherer: reg,
		logger:   logger,

		// Job metrics
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs added to the queue",
		}, []string{"job_type"}),

		JobsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed successfully",
		}, []string{"job_type"}),

		JobsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that failed permanently",
		}, []string{"job_type", "error_type"}),

		JobsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Total number of jobs that were retried",
		}, []string{"job_type"}),

		JobProcessingTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_processing_duration_seconds",
			Help:      "Time taken by a single job attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),

		// Queue metrics
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Current number of pending jobs",
		}),

		DLQSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dlq_size",
			Help:      "Number of failed jobs recorded since start",
		}),

		// Worker metrics
		WorkerCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_count",
			Help:      "Total number of workers in the pool",
		}),

		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Number of workers currently processing jobs",
		}),

		// Scheduler metrics
		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_task_runs_total",
			Help:      "Scheduled task firings by outcome",
		}, []string{"task", "status"}),

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_task_duration_seconds",
			Help:      "Duration of scheduled task runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),

		// Event metrics
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Total number of emitted domain events",
		}, []string{"event"}),

		SubscriberFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_subscriber_failures_total",
			Help:      "Subscriber errors and panics by event",
		}, []string{"event"}),

		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the cascade got too deep",
		}, []string{"event"}),

		// API metrics
		APIRequestCount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of admin API requests",
		}, []string{"method", "path", "status"}),

		APIRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of admin API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	logger.Info("Prometheus metrics initialized")
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) JobEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobAttempt(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobProcessingTime.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) JobCompleted(jobType string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobRetried(jobType string) {
	if m == nil {
		return
	}
	m.JobsRetried.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobFailed(jobType, errorType string) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(jobType, errorType).Inc()
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(n))
}

func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.DLQSize.Inc()
}

func (m *Metrics) SetWorkers(total, active int) {
	if m == nil {
		return
	}
	m.WorkerCount.Set(float64(total))
	m.ActiveWorkers.Set(float64(active))
}

func (m *Metrics) TaskRun(task, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskRuns.WithLabelValues(task, status).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) EventEmitted(event string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(event).Inc()
}

func (m *Metrics) SubscriberFailed(event string) {
	if m == nil {
		return
	}
	m.SubscriberFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) APIRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestCount.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.APIRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
