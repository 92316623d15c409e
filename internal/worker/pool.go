package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/tracing"
	"github.com/taponn/jobcore/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects how workers take jobs from the source.
type Mode string

const (
	// ModeStream runs independent workers that each pull the next job as soon
	// as they are free.
	ModeStream Mode = "stream"

	// ModeBatch takes up to Concurrency jobs at a time, runs them together and
	// waits for the whole batch before taking the next one.
	ModeBatch Mode = "batch"
)

// Source is where the pool takes jobs from and puts retries back.
type Source interface {
	Enqueue(ctx context.Context, job *types.Job) error
	Dequeue(ctx context.Context) (*types.Job, error)
	DequeueBatch(ctx context.Context, max int) ([]*types.Job, error)
	Size() int
}

// Limiter throttles job execution per job type.
type Limiter interface {
	Wait(ctx context.Context, jobType string) error
}

// Listener observes job transitions made by the pool. Calls happen on worker
// goroutines, so they should return quickly.
type Listener interface {
	JobStarted(job *types.Job, attempt int)
	JobCompleted(job *types.Job, result *types.JobResult)
	JobRetrying(job *types.Job, result *types.JobResult)
	JobFailed(job *types.Job, result *types.JobResult)
}

// Pool manages collection of workers
type Pool struct {

	// Config
	concurrency int
	mode        Mode
	source      Source
	registry    *job.Registry
	limiter     Limiter
	listener    Listener
	metrics     *metrics.Metrics
	tracer      *tracing.Tracer
	logger      *zap.Logger

	// Runtime state
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers []*Worker

	// Shutdown
	shutdownTimeout time.Duration
	metricsInterval time.Duration
}

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	Concurrency     int
	Mode            Mode
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration
}

// PoolStats holds statistics about the worker pool
type PoolStats struct {
	Running        bool  `json:"running"`
	Mode           Mode  `json:"mode"`
	TotalWorkers   int   `json:"total_workers"`
	ActiveWorkers  int   `json:"active_workers"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalRetried   int64 `json:"total_retried"`
}

// Option configures optional pool collaborators
type Option func(*Pool)

func WithLimiter(l Limiter) Option {
	return func(p *Pool) { p.limiter = l }
}

func WithListener(l Listener) Option {
	return func(p *Pool) { p.listener = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithTracer(t *tracing.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// NewPool creates a new worker pool
func NewPool(config PoolConfig, source Source, registry *job.Registry, logger *zap.Logger, opts ...Option) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Mode == "" {
		config.Mode = ModeStream
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 10 * time.Second
	}

	p := &Pool{
		concurrency:     config.Concurrency,
		mode:            config.Mode,
		source:          source,
		registry:        registry,
		listener:        nopListener{},
		logger:          logger,
		shutdownTimeout: config.ShutdownTimeout,
		metricsInterval: config.MetricsInterval,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*Worker, p.concurrency)
	for i := range p.workers {
		p.workers[i] = newWorker(WorkerConfig{ID: fmt.Sprintf("worker-%d", i+1)}, p)
	}

	return p
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.logger.Info("Starting worker pool",
		zap.Int("concurrency", p.concurrency),
		zap.String("mode", string(p.mode)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.metrics.SetWorkers(p.concurrency, 0)

	switch p.mode {
	case ModeBatch:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runBatches(ctx)
		}()
	default:
		for _, w := range p.workers {
			p.wg.Add(1)
			go func(w *Worker) {
				defer p.wg.Done()
				w.run(ctx)
			}(w)
		}
	}

	// Start metrics collection
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.collectMetrics(ctx)
	}()

	p.logger.Info("Worker pool started successfully")
	return nil
}

// runBatches takes up to concurrency jobs, runs them together and waits for
// all of them before taking more.
func (p *Pool) runBatches(ctx context.Context) {
	for ctx.Err() == nil {
		jobs, err := p.source.DequeueBatch(ctx, p.concurrency)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("Batch dequeue stopped", zap.Error(err))
			}
			return
		}

		p.logger.Debug("Processing batch", zap.Int("size", len(jobs)))

		var g errgroup.Group
		for i, j := range jobs {
			w, j := p.workers[i], j
			g.Go(func() error {
				w.processJob(ctx, j)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Stop cancels the workers and waits up to the shutdown timeout for in-flight
// jobs. Calling Stop on a stopped pool is a no-op.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool", zap.Duration("timeout", p.shutdownTimeout))

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.metrics.SetWorkers(0, 0)
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-time.After(p.shutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// Running reports whether the pool has been started and not stopped.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) Mode() Mode {
	return p.mode
}

func (p *Pool) Concurrency() int {
	return p.concurrency
}

func (p *Pool) GetStats() PoolStats {
	stats := PoolStats{
		Running:      p.Running(),
		Mode:         p.mode,
		TotalWorkers: p.concurrency,
	}

	for _, worker := range p.workers {
		ws := worker.GetStats()
		if ws.IsActive {
			stats.ActiveWorkers++
		}
		stats.TotalProcessed += ws.JobsProcessed
		stats.TotalFailed += ws.JobsFailed
		stats.TotalRetried += ws.JobsRetried
	}
	return stats
}

// collectMetrics periodically publishes pool gauges
func (p *Pool) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(p.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	stats := p.GetStats()
	size := p.source.Size()

	p.metrics.SetWorkers(stats.TotalWorkers, stats.ActiveWorkers)
	p.metrics.SetQueueSize(size)

	p.logger.Debug("Worker pool metrics",
		zap.Int64("processed", stats.TotalProcessed),
		zap.Int64("failed", stats.TotalFailed),
		zap.Int64("retried", stats.TotalRetried),
		zap.Int("active_workers", stats.ActiveWorkers),
		zap.Int("queue_size", size),
	)
}

type nopListener struct{}

func (nopListener) JobStarted(*types.Job, int)                {}
func (nopListener) JobCompleted(*types.Job, *types.JobResult) {}
func (nopListener) JobRetrying(*types.Job, *types.JobResult)  {}
func (nopListener) JobFailed(*types.Job, *types.JobResult)    {}
