package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/api"
	"github.com/taponn/jobcore/internal/config"
	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/metrics"
	"github.com/taponn/jobcore/internal/middleware"
	"github.com/taponn/jobcore/internal/queue"
	"github.com/taponn/jobcore/internal/scheduler"
	"github.com/taponn/jobcore/pkg/types"
)

const version = "1.0.0"

// QueueService is the part of the job queue the admin API reads
type QueueService interface {
	GetStatus() types.StatusSnapshot
	Job(id string) (types.JobSnapshot, bool)
	Clear() int
	DeadLetters() queue.DeadLetterQueue
}

// TaskService is the part of the scheduler the admin API reads
type TaskService interface {
	Tasks() []types.TaskInfo
	RunNow(ctx context.Context, name string) error
}

// EventService is the part of the event dispatcher the admin API reads
type EventService interface {
	Events() []string
	Subscribers(name string) int
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the admin API. Scheduler, Events and Metrics
// may be nil.
type Deps struct {
	Queue     QueueService
	Scheduler TaskService
	Events    EventService
	Registry  *job.Registry
	Metrics   *metrics.Metrics
	Checks    map[string]HealthCheck
}

// Server is the read-mostly admin HTTP server
type Server struct {
	config *config.Config
	deps   Deps
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	s.setupRouter()
	s.setupServer()

	return s
}

func (s *Server) setupRouter() {
	if s.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.MetricsMiddleware(s.deps.Metrics))
	s.router.Use(middleware.RecoveryMiddleware(s.logger))
	s.router.Use(middleware.LoggingMiddleware(s.logger))
	s.router.Use(middleware.RateLimitMiddleware(s.config.Admin.RateLimit, s.config.Admin.RateBurst))
	s.router.Use(middleware.APIKeyMiddleware(s.config.Admin.APIKeys))

	s.router.GET("/health", s.healthHandler)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/queue/status", s.queueStatusHandler)
		v1.DELETE("/queue", s.clearQueueHandler)
		v1.GET("/jobs/types", s.listJobTypesHandler)
		v1.GET("/jobs/:id", s.getJobHandler)
		v1.GET("/dlq", s.listFailedJobsHandler)
		v1.GET("/events", s.listEventsHandler)
		v1.GET("/scheduler/tasks", s.listTasksHandler)
		v1.POST("/scheduler/tasks/:name/run", s.runTaskHandler)
	}
}

func (s *Server) setupServer() {
	s.server = &http.Server{
		Addr:         s.config.Server.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.server.Addr),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP Server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server gracefully: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := api.HealthResponse{
		Status:    "healthy",
		Version:   version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(names)),
	}
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			s.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "healthy"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (s *Server) queueStatusHandler(c *gin.Context) {
	resp := api.QueueStatusResponse{StatusSnapshot: s.deps.Queue.GetStatus()}

	size, err := s.deps.Queue.DeadLetters().Size(c.Request.Context())
	if err != nil {
		s.logger.Warn("Failed to read dead letter count", zap.Error(err))
	}
	resp.DeadLetters = size

	c.JSON(http.StatusOK, resp)
}

func (s *Server) clearQueueHandler(c *gin.Context) {
	removed := s.deps.Queue.Clear()
	s.logger.Warn("Pending jobs cleared via admin API", zap.Int("removed", removed))
	c.JSON(http.StatusOK, api.ClearQueueResponse{Removed: removed})
}

func (s *Server) getJobHandler(c *gin.Context) {
	id := c.Param("id")
	snap, ok := s.deps.Queue.Job(id)
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:   "Job not found",
			Details: fmt.Sprintf("Job '%s' is not tracked; it may have aged out of the history", id),
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) listJobTypesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, api.JobTypesResponse{JobTypes: s.deps.Registry.ListHandlers()})
}

func (s *Server) listFailedJobsHandler(c *gin.Context) {
	var q api.ListFailedJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid query", Details: err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = 50
	}

	ctx := c.Request.Context()
	dlq := s.deps.Queue.DeadLetters()

	jobs, err := dlq.List(ctx, q.Offset, q.Limit)
	if err != nil {
		s.logger.Error("Failed to list failed jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to list failed jobs"})
		return
	}
	total, err := dlq.Size(ctx)
	if err != nil {
		s.logger.Error("Failed to count failed jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to count failed jobs"})
		return
	}

	c.JSON(http.StatusOK, api.ListFailedJobsResponse{
		Jobs:       jobs,
		TotalCount: total,
		Offset:     q.Offset,
		Limit:      q.Limit,
	})
}

func (s *Server) listEventsHandler(c *gin.Context) {
	resp := api.EventsResponse{Events: map[string]int{}}
	if s.deps.Events != nil {
		for _, name := range s.deps.Events.Events() {
			resp.Events[name] = s.deps.Events.Subscribers(name)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listTasksHandler(c *gin.Context) {
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusOK, api.TasksResponse{Enabled: false, Tasks: []types.TaskInfo{}})
		return
	}
	c.JSON(http.StatusOK, api.TasksResponse{Enabled: true, Tasks: s.deps.Scheduler.Tasks()})
}

// runTaskHandler runs a task synchronously. A failing task is reported in
// the body with 200; only an unknown task is an HTTP error.
func (s *Server) runTaskHandler(c *gin.Context) {
	name := c.Param("name")
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "Scheduler is disabled"})
		return
	}

	start := time.Now()
	err := s.deps.Scheduler.RunNow(c.Request.Context(), name)
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Task not found", Details: name})
		return
	}

	resp := api.RunTaskResponse{
		Task:     name,
		Status:   "completed",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		resp.Status = "failed"
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
