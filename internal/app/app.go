// Package app assembles the job queue, scheduler and event dispatcher from
// configuration. The platform's request layer embeds a Core and reports
// domain events through Core.Events; cmd/server runs one standalone.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/cache"
	"github.com/taponn/jobcore/internal/config"
	"github.com/taponn/jobcore/internal/events"
	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/limiter"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/queue"
	"github.com/taponn/jobcore/internal/scheduler"
	"github.com/taponn/jobcore/internal/server"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/internal/tracing"
	"github.com/taponn/jobcore/internal/worker"
)

const Version = "1.0.0"

// Core owns the background services of one process
type Core struct {
	Queue     *queue.JobQueue
	Scheduler *scheduler.Scheduler // nil when disabled or without a database
	Events    *events.Dispatcher
	Registry  *job.Registry
	Metrics   *metrics.Metrics
	Tracer    *tracing.Tracer

	checks map[string]server.HealthCheck
	redis  *redis.Client
	db     *store.Store
	logger *zap.Logger
}

// New connects the optional Redis and database backends and builds every
// service. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	c := &Core{
		checks: make(map[string]server.HealthCheck),
		logger: logger,
	}

	var err error
	c.Tracer, err = tracing.NewTracer(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	c.Metrics = metrics.NewMetrics(prometheus.NewRegistry(), logger)

	// Redis is optional: it backs the failed-job record and cache invalidation
	var (
		dlq         queue.DeadLetterQueue
		invalidator *cache.Invalidator
	)
	if cfg.Redis.URL != "" {
		c.redis, err = queue.NewRedisClient(queue.RedisOptions{
			URL:            cfg.Redis.URL,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			ConnectTimeout: cfg.Redis.Timeout,
			CommandTimeout: cfg.Redis.Timeout,
		})
		if err != nil {
			return nil, err
		}
		dlq = queue.NewRedisDLQ(c.redis, cfg.Redis.DLQMaxLen)
		invalidator = cache.NewInvalidator(c.redis, logger)
		client := c.redis
		c.checks["redis"] = func(ctx context.Context) error { return queue.RedisHealth(ctx, client) }
	} else {
		logger.Warn("REDIS_URL not set, failed jobs are kept in memory and cache invalidation is off")
		dlq = queue.NewMemoryDLQ(cfg.Redis.DLQMaxLen)
	}

	if cfg.Database.URL != "" {
		c.db, err = store.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
		if err != nil {
			c.closeBackends()
			return nil, err
		}
		c.checks["database"] = c.db.Ping
	} else {
		logger.Warn("DATABASE_URL not set, only email handlers are available and the scheduler is disabled")
	}

	c.Registry = job.NewRegistry(logger)
	if err := c.registerJobHandlers(cfg); err != nil {
		c.closeBackends()
		return nil, fmt.Errorf("failed to register job handlers: %w", err)
	}

	rateLimiter, err := limiter.NewLocalRateLimiter(cfg.Worker.RateLimits)
	if err != nil {
		c.closeBackends()
		return nil, fmt.Errorf("invalid job rate limits: %w", err)
	}

	c.Queue = queue.NewJobQueue(queue.Config{
		Workers:         cfg.Worker.Concurrency,
		Mode:            worker.Mode(cfg.Worker.Mode),
		MaxRetries:      cfg.Worker.MaxRetries,
		DefaultTimeout:  cfg.Worker.Timeout,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		HistorySize:     cfg.Worker.HistorySize,
	}, c.Registry, logger,
		queue.WithDeadLetterQueue(dlq),
		queue.WithMetrics(c.Metrics),
		queue.WithTracer(c.Tracer),
		queue.WithLimiter(rateLimiter),
	)

	c.Events = events.NewDispatcher(logger,
		events.WithMaxDepth(cfg.Events.MaxDepth),
		events.WithMetrics(c.Metrics),
	)
	listenerDeps := events.ListenerDeps{Queue: c.Queue, Logger: logger}
	if c.db != nil {
		listenerDeps.Analytics = c.db
	}
	if invalidator != nil {
		listenerDeps.Cache = invalidator
	}
	events.RegisterListeners(c.Events, listenerDeps)

	c.Scheduler = c.initScheduler(cfg)
	return c, nil
}

// registerJobHandlers registers the platform job handlers
func (c *Core) registerJobHandlers(cfg *config.Config) error {
	m, err := mailer.New(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	}, c.logger)
	if err != nil {
		return err
	}

	deps := handlers.Deps{
		Mailer:         m,
		WebhookTimeout: cfg.Webhook.Timeout,
		Logger:         c.logger,
	}
	if c.db != nil {
		deps.Store = c.db
	}

	if err := handlers.Register(c.Registry, deps); err != nil {
		return err
	}

	c.logger.Info("Job handlers registered", zap.Strings("types", c.Registry.Types()))
	return nil
}

// initScheduler builds the maintenance scheduler, or returns nil when it is
// disabled or has no database to work on.
func (c *Core) initScheduler(cfg *config.Config) *scheduler.Scheduler {
	if !cfg.Scheduler.Enabled {
		c.logger.Info("Scheduler is disabled")
		return nil
	}
	if c.db == nil {
		return nil
	}

	for name, err := range cfg.InvalidSchedules() {
		c.logger.Error("Invalid cron expression, task will not run",
			zap.String("task", name),
			zap.Error(err),
		)
	}

	// Validate already resolved the timezone once
	loc, _ := cfg.Scheduler.Location()

	sched := scheduler.New(scheduler.Config{
		Location:    loc,
		TaskTimeout: cfg.Scheduler.TaskTimeout,
	}, c.logger, scheduler.WithMetrics(c.Metrics), scheduler.WithTracer(c.Tracer))

	maintenance := scheduler.NewMaintenance(c.db, c.Queue, c.logger)
	maintenance.LogRetentionDays = cfg.Scheduler.LogRetentionDays

	n := sched.Init(maintenance.Tasks(cfg.Scheduler.Schedules()))
	c.logger.Info("Scheduler ready", zap.Int("tasks", n), zap.Strings("names", sched.GetTasks()))
	return sched
}

// ServerDeps returns the services the admin API reads. A disabled scheduler
// is left as a nil interface.
func (c *Core) ServerDeps() server.Deps {
	deps := server.Deps{
		Queue:    c.Queue,
		Events:   c.Events,
		Registry: c.Registry,
		Metrics:  c.Metrics,
		Checks:   c.checks,
	}
	if c.Scheduler != nil {
		deps.Scheduler = c.Scheduler
	}
	return deps
}

// Start begins job processing and task firing
func (c *Core) Start() error {
	if err := c.Queue.Start(); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	if c.Scheduler != nil {
		c.Scheduler.Start()
	}
	return nil
}

// Shutdown stops the scheduler, then the queue, flushes traces and closes
// the backends. Every step runs; their errors are joined.
func (c *Core) Shutdown(ctx context.Context) error {
	var errs []error

	if c.Scheduler != nil {
		if err := c.Scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if err := c.Queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("job queue: %w", err))
	}
	if err := c.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	if err := c.closeBackends(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Core) closeBackends() error {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
	if c.redis != nil {
		err := c.redis.Close()
		c.redis = nil
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
