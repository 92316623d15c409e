package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/tracing"
	"github.com/taponn/jobcore/internal/worker"
	"github.com/taponn/jobcore/pkg/types"
	"go.uber.org/zap"
)

// Config holds the job queue settings
type Config struct {
	Workers         int
	Mode            worker.Mode
	MaxRetries      int
	DefaultTimeout  time.Duration
	ShutdownTimeout time.Duration
	HistorySize     int
}

// JobQueue accepts jobs, runs them on a worker pool and keeps enough state
// around to answer status queries. Nothing survives a restart.
type JobQueue struct {
	cfg     Config
	pending *PriorityQueue
	pool    *worker.Pool
	dlq     DeadLetterQueue
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	jobs    map[string]*types.Job // pending and processing
	history []*types.Job          // terminal jobs, oldest first
	totals  types.JobTotals
}

type options struct {
	dlq     DeadLetterQueue
	metrics *metrics.Metrics
	tracer  *tracing.Tracer
	limiter worker.Limiter
}

// Option configures optional JobQueue collaborators
type Option func(*options)

func WithDeadLetterQueue(d DeadLetterQueue) Option {
	return func(o *options) { o.dlq = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithLimiter(l worker.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// NewJobQueue builds a stopped queue. Jobs may be added before Start; they
// wait in priority order.
func NewJobQueue(cfg Config, registry *job.Registry, logger *zap.Logger, opts ...Option) *JobQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dlq == nil {
		o.dlq = NewMemoryDLQ(cfg.HistorySize)
	}

	q := &JobQueue{
		cfg:     cfg,
		pending: NewPriorityQueue(),
		dlq:     o.dlq,
		metrics: o.metrics,
		logger:  logger,
		jobs:    make(map[string]*types.Job),
	}

	poolOpts := []worker.Option{
		worker.WithListener(q),
		worker.WithMetrics(o.metrics),
		worker.WithTracer(o.tracer),
	}
	if o.limiter != nil {
		poolOpts = append(poolOpts, worker.WithLimiter(o.limiter))
	}

	q.pool = worker.NewPool(worker.PoolConfig{
		Concurrency:     cfg.Workers,
		Mode:            cfg.Mode,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, q.pending, registry, logger, poolOpts...)

	return q
}

// Add creates a pending job and returns its ID without waiting for it to
// run. Only malformed input is rejected; handler failures are never reported
// here.
func (q *JobQueue) Add(ctx context.Context, jobType string, payload any, opts ...types.JobOption) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", job.ErrValidation, err)
	}

	j := types.NewJob(jobType, data, types.DefaultOptions(q.cfg.MaxRetries, q.cfg.DefaultTimeout).Apply(opts...))
	if err := j.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", job.ErrValidation, err)
	}

	q.mu.Lock()
	q.jobs[j.ID] = j
	q.totals.Enqueued++
	q.mu.Unlock()

	if err := q.pending.Enqueue(ctx, j); err != nil {
		q.mu.Lock()
		delete(q.jobs, j.ID)
		q.totals.Enqueued--
		q.mu.Unlock()
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.metrics.JobEnqueued(jobType)
	q.metrics.SetQueueSize(q.pending.Size())
	tracing.JobEnqueued(ctx, j)
	q.logger.Debug("Job added",
		zap.String("job_id", j.ID),
		zap.String("job_type", jobType),
		zap.Int("priority", j.Options.Priority),
	)

	return j.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("payload is not serialisable: %w", err)
		}
		return data, nil
	}
}

// Start begins processing. Calling Start twice does not start a second pool.
func (q *JobQueue) Start() error {
	return q.pool.Start()
}

// Stop halts processing and waits for in-flight jobs up to the shutdown
// timeout. Pending jobs stay queued and run again after Start.
func (q *JobQueue) Stop() error {
	return q.pool.Stop()
}

// Close stops the pool and releases the pending queue. The queue cannot be reused.
func (q *JobQueue) Close() error {
	err := q.Stop()
	q.pending.Close()
	return err
}

// GetStatus returns a snapshot of the queue. It never changes state.
func (q *JobQueue) GetStatus() types.StatusSnapshot {
	pending := q.pending.Pending()
	stats := q.pool.GetStats()

	jobs := make([]types.JobSnapshot, 0, len(pending))
	for _, j := range pending {
		jobs = append(jobs, j.Snapshot())
	}

	q.mu.RLock()
	recent := make([]types.JobSnapshot, 0, len(q.history))
	for i := len(q.history) - 1; i >= 0; i-- {
		recent = append(recent, q.history[i].Snapshot())
	}
	totals := q.totals
	q.mu.RUnlock()

	return types.StatusSnapshot{
		QueueLength: len(pending),
		Processing:  stats.Running,
		Active:      stats.ActiveWorkers,
		Workers:     stats.TotalWorkers,
		Mode:        string(q.pool.Mode()),
		Jobs:        jobs,
		Recent:      recent,
		Totals:      totals,
	}
}

// Job looks up a tracked job by ID. Terminal jobs are kept until they fall
// out of the history window.
func (q *JobQueue) Job(id string) (types.JobSnapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if j, ok := q.jobs[id]; ok {
		return j.Snapshot(), true
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].ID == id {
			return q.history[i].Snapshot(), true
		}
	}
	return types.JobSnapshot{}, false
}

// Clear drops every pending job. Jobs already being processed are not touched.
func (q *JobQueue) Clear() int {
	removed := q.pending.Clear()

	q.mu.Lock()
	for _, j := range removed {
		delete(q.jobs, j.ID)
	}
	q.mu.Unlock()

	q.metrics.SetQueueSize(0)
	q.logger.Info("Queue cleared", zap.Int("removed", len(removed)))
	return len(removed)
}

// Size returns the number of pending jobs
func (q *JobQueue) Size() int {
	return q.pending.Size()
}

// DeadLetters exposes the failed-job record
func (q *JobQueue) DeadLetters() DeadLetterQueue {
	return q.dlq
}

// JobStarted implements worker.Listener
func (q *JobQueue) JobStarted(*types.Job, int) {
	q.metrics.SetQueueSize(q.pending.Size())
}

// JobCompleted implements worker.Listener
func (q *JobQueue) JobCompleted(j *types.Job, _ *types.JobResult) {
	q.mu.Lock()
	q.totals.Completed++
	q.retire(j)
	q.mu.Unlock()
}

// JobRetrying implements worker.Listener
func (q *JobQueue) JobRetrying(*types.Job, *types.JobResult) {
	q.mu.Lock()
	q.totals.Retried++
	q.mu.Unlock()
}

// JobFailed implements worker.Listener
func (q *JobQueue) JobFailed(j *types.Job, _ *types.JobResult) {
	q.mu.Lock()
	q.totals.Failed++
	q.retire(j)
	q.mu.Unlock()

	snap := j.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.dlq.Send(ctx, snap, snap.LastError); err != nil {
		q.logger.Error("Failed to record failed job",
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
		return
	}
	q.metrics.DeadLettered()
}

// retire moves a terminal job into the bounded history. Caller holds q.mu.
func (q *JobQueue) retire(j *types.Job) {
	delete(q.jobs, j.ID)
	q.history = append(q.history, j)
	if over := len(q.history) - q.cfg.HistorySize; over > 0 {
		clear(q.history[:over])
		q.history = q.history[over:]
	}
}
