package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taponn/jobcore/pkg/types"
	"go.uber.org/zap"
)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]types.JobHandler
	logger   *zap.Logger
}

// NewRegistry creates a new job handler registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]types.JobHandler),
		logger:   logger,
	}
}

// Register adds a job handler to the registry
func (r *Registry) Register(handler types.JobHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	jobType := handler.Type()
	if jobType == "" {
		return fmt.Errorf("handler type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for type '%s' already exists", jobType)
	}

	r.handlers[jobType] = handler
	r.logger.Info("Registered job handler",
		zap.String("type", jobType),
		zap.String("description", handler.Description()),
	)

	return nil
}

// Get retrieves a handler for the given job type
func (r *Registry) Get(jobType string) (types.JobHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[jobType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}

	return handler, nil
}

// Types returns all registered job types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// Process runs one attempt of job through its handler. The attempt is bounded
// by job.Options.Timeout; handler panics are converted to errors.
func (r *Registry) Process(ctx context.Context, job *types.Job) *types.JobResult {
	start := time.Now()
	result := &types.JobResult{JobID: job.ID}

	handler, err := r.Get(job.Type)
	if err != nil {
		r.logger.Error("No handler found for job",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Error(err),
		)
		return finish(result, start, err)
	}

	r.logger.Debug("Processing job",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts()),
	)

	err = r.execute(ctx, handler, job)
	finish(result, start, err)

	if err != nil {
		r.logger.Warn("Job attempt failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.String("error_kind", Kind(err)),
			zap.Error(err),
			zap.Duration("duration", result.Duration),
		)
	}

	return result
}

func (r *Registry) execute(ctx context.Context, handler types.JobHandler, job *types.Job) error {
	runCtx, cancel := context.WithTimeout(ctx, job.Options.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- handler.Handle(runCtx, job)
	}()

	return await(ctx, runCtx, done, job)
}

// await waits for the handler result on done. If runCtx ends first the
// attempt timed out, or was interrupted when the parent ctx is gone. A result
// already waiting on done always wins over the deadline.
func await(ctx, runCtx context.Context, done <-chan error, job *types.Job) error {
	select {
	case err := <-done:
		return outcome(ctx, job, err)
	case <-runCtx.Done():
		select {
		case err := <-done:
			return outcome(ctx, job, err)
		default:
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		// The handler goroutine is abandoned; it sees a cancelled context.
		return fmt.Errorf("%w after %s", ErrTimeout, job.Options.Timeout)
	}
}

func outcome(ctx context.Context, job *types.Job, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w after %s", ErrTimeout, job.Options.Timeout)
	default:
		return &HandlerError{JobType: job.Type, Err: err}
	}
}

func finish(result *types.JobResult, start time.Time, err error) *types.JobResult {
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Status = types.StatusFailed
		result.Err = err
		result.Error = err.Error()
		return result
	}
	result.Status = types.StatusCompleted
	return result
}

func (r *Registry) ListHandlers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make(map[string]string)
	for t, h := range r.handlers {
		handlers[t] = h.Description()
	}
	return handlers
}

// Func adapts a plain function to types.JobHandler.
type Func struct {
	Name string
	Desc string
	Fn   func(ctx context.Context, job *types.Job) error
}

func (h Func) Type() string        { return h.Name }
func (h Func) Description() string { return h.Desc }
func (h Func) Handle(ctx context.Context, job *types.Job) error {
	return h.Fn(ctx, job)
}
