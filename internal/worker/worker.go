package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/tracing"
	"github.com/taponn/jobcore/pkg/types"
	"go.uber.org/zap"
)

// Attempt outcomes, as recorded on the job span
const (
	outcomeCompleted   = "completed"
	outcomeRetrying    = "retrying"
	outcomeInterrupted = "interrupted"
	outcomeFailed      = "failed"
)

type Worker struct {
	config   WorkerConfig
	pool     *Pool
	logger   *zap.Logger
	registry *job.Registry
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer

	jobsProcessed int64
	jobsFailed    int64
	jobsRetried   int64
	isActive      int32 // 1 while a job is being processed
}

// WorkerConfig holds configuration for a worker
type WorkerConfig struct {
	ID string
}

// WorkerStats holds statistics for a single worker
type WorkerStats struct {
	WorkerID      string `json:"worker_id"`
	JobsProcessed int64  `json:"jobs_processed"`
	JobsFailed    int64  `json:"jobs_failed"`
	JobsRetried   int64  `json:"jobs_retried"`
	IsActive      bool   `json:"is_active"`
}

func newWorker(config WorkerConfig, pool *Pool) *Worker {
	return &Worker{
		config:   config,
		pool:     pool,
		registry: pool.registry,
		metrics:  pool.metrics,
		tracer:   pool.tracer,
		logger:   pool.logger.With(zap.String("worker_id", config.ID)),
	}
}

// run pulls jobs until ctx is cancelled or the source is closed.
func (w *Worker) run(ctx context.Context) {
	w.logger.Debug("Worker starting")

	for ctx.Err() == nil {
		j, err := w.pool.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Dequeue stopped", zap.Error(err))
			}
			w.logger.Debug("Worker stopping")
			return
		}

		w.processJob(ctx, j)
	}
	w.logger.Debug("Worker stopping")
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() WorkerStats {
	return WorkerStats{
		WorkerID:      w.config.ID,
		JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		JobsFailed:    atomic.LoadInt64(&w.jobsFailed),
		JobsRetried:   atomic.LoadInt64(&w.jobsRetried),
		IsActive:      w.IsActive(),
	}
}

// IsActive returns true if the worker is currently processing a job
func (w *Worker) IsActive() bool {
	return atomic.LoadInt32(&w.isActive) == 1
}

// processJob runs one attempt of job and settles its state: completed,
// re-enqueued for another attempt, or failed.
func (w *Worker) processJob(ctx context.Context, j *types.Job) {
	attempt, err := j.Begin()
	if err != nil {
		w.logger.Warn("Skipping job that is not pending",
			zap.String("job_id", j.ID),
			zap.String("status", string(j.Status())),
		)
		return
	}

	atomic.StoreInt32(&w.isActive, 1)
	defer atomic.StoreInt32(&w.isActive, 0)

	w.pool.listener.JobStarted(j, attempt)

	ctx, span := w.tracer.StartJob(ctx, j, attempt)
	defer span.End()

	w.logger.Info("Starting job execution",
		zap.String("job_id", j.ID),
		zap.String("job_type", j.Type),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", j.Options.MaxRetries),
	)

	result := w.attempt(ctx, j)
	outcome := w.settle(j, result)
	tracing.EndJob(span, outcome, result.Err, job.Kind(result.Err))
}

func (w *Worker) attempt(ctx context.Context, j *types.Job) *types.JobResult {
	if d := j.Options.Delay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return interrupted(ctx, j, ctx.Err())
		case <-timer.C:
		}
	}

	if w.pool.limiter != nil {
		if err := w.pool.limiter.Wait(ctx, j.Type); err != nil {
			return interrupted(ctx, j, err)
		}
	}

	return w.registry.Process(ctx, j)
}

// interrupted reports a wait that ended before the handler ran. When the
// pool is stopping the attempt is released rather than counted.
func interrupted(ctx context.Context, j *types.Job, err error) *types.JobResult {
	cause := error(&job.HandlerError{JobType: j.Type, Err: err})
	if ctx.Err() != nil {
		cause = fmt.Errorf("%w: %w", job.ErrInterrupted, err)
	}
	return &types.JobResult{
		JobID:       j.ID,
		Status:      types.StatusFailed,
		Err:         cause,
		Error:       cause.Error(),
		CompletedAt: time.Now().UTC(),
	}
}

// settle moves j out of processing and returns the outcome
func (w *Worker) settle(j *types.Job, result *types.JobResult) string {
	w.metrics.JobAttempt(j.Type, result.Duration)

	switch {
	case result.Err == nil:
		if err := j.Complete(); err != nil {
			w.logger.Error("Failed to complete job", zap.String("job_id", j.ID), zap.Error(err))
			return outcomeFailed
		}
		atomic.AddInt64(&w.jobsProcessed, 1)
		w.metrics.JobCompleted(j.Type)
		w.logger.Info("Job completed successfully",
			zap.String("job_id", j.ID),
			zap.Duration("duration", result.Duration),
		)
		w.pool.listener.JobCompleted(j, result)
		return outcomeCompleted

	case errors.Is(result.Err, job.ErrInterrupted):
		return w.release(j, result)

	case job.Retryable(result.Err) && j.CanRetry():
		if err := j.Requeue(result.Err); err != nil {
			w.logger.Error("Failed to requeue job", zap.String("job_id", j.ID), zap.Error(err))
			return outcomeFailed
		}
		atomic.AddInt64(&w.jobsRetried, 1)
		w.metrics.JobRetried(j.Type)
		w.logger.Warn("Job failed, retrying",
			zap.String("job_id", j.ID),
			zap.String("error", result.Error),
			zap.Int("attempt", j.Attempts()),
			zap.Int("max_retries", j.Options.MaxRetries),
		)

		w.pool.listener.JobRetrying(j, result)

		// Enqueue on the in-memory queue never blocks, so a fresh context is fine.
		if err := w.pool.source.Enqueue(context.Background(), j); err != nil {
			w.logger.Error("Failed to re-enqueue job, marking failed",
				zap.String("job_id", j.ID),
				zap.Error(err),
			)
			w.fail(j, result, err)
			return outcomeFailed
		}
		return outcomeRetrying

	default:
		w.fail(j, result, result.Err)
		return outcomeFailed
	}
}

// release puts a job whose attempt was cut short by Stop back on the queue
// with its attempt count restored, so it runs again after the next Start.
func (w *Worker) release(j *types.Job, result *types.JobResult) string {
	if err := j.Release(); err != nil {
		w.logger.Error("Failed to release job", zap.String("job_id", j.ID), zap.Error(err))
		return outcomeFailed
	}
	w.logger.Info("Job interrupted by shutdown, returned to the queue",
		zap.String("job_id", j.ID),
		zap.String("job_type", j.Type),
		zap.Int("attempts", j.Attempts()),
	)

	if err := w.pool.source.Enqueue(context.Background(), j); err != nil {
		w.logger.Error("Failed to re-enqueue interrupted job, marking failed",
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
		w.fail(j, result, err)
		return outcomeFailed
	}
	return outcomeInterrupted
}

func (w *Worker) fail(j *types.Job, result *types.JobResult, cause error) {
	if err := j.Fail(cause); err != nil {
		w.logger.Error("Failed to mark job failed", zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	atomic.AddInt64(&w.jobsFailed, 1)
	w.metrics.JobFailed(j.Type, job.Kind(cause))
	w.logger.Error("Job failed permanently",
		zap.String("job_id", j.ID),
		zap.String("job_type", j.Type),
		zap.String("error", cause.Error()),
		zap.Int("attempts", j.Attempts()),
	)
	w.pool.listener.JobFailed(j, result)
}
