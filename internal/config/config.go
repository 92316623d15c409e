package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/taponn/jobcore/internal/scheduler"
)

type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Worker    WorkerConfig    `envconfig:"WORKER"`
	Scheduler SchedulerConfig `envconfig:"SCHEDULER"`
	Events    EventsConfig    `envconfig:"EVENTS"`
	SMTP      SMTPConfig      `envconfig:"SMTP"`
	Webhook   WebhookConfig   `envconfig:"WEBHOOK"`
	Log       LogConfig       `envconfig:"LOG"`
	Tracing   TracingConfig   `envconfig:"TRACING"`
	Admin     AdminConfig     `envconfig:"ADMIN"`
}

type ServerConfig struct {
	Port         int           `envconfig:"PORT" default:"8080"`
	Host         string        `envconfig:"HOST" default:"localhost"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// RedisConfig is optional; an empty URL keeps failed jobs in memory and
// disables cache invalidation. DB, when set, overrides the database in URL.
type RedisConfig struct {
	URL       string        `envconfig:"URL" default:""`
	Password  string        `envconfig:"PASSWORD" default:""`
	DB        *int          `envconfig:"DB"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"5s"`
	DLQMaxLen int           `envconfig:"DLQ_MAX_LEN" default:"1000"`
}

// DatabaseConfig is optional; without a URL the database-backed handlers,
// maintenance tasks and analytics tracking are disabled.
type DatabaseConfig struct {
	URL      string `envconfig:"URL" default:""`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
}

type WorkerConfig struct {
	Concurrency     int                `envconfig:"CONCURRENCY" default:"3"`
	Mode            string             `envconfig:"MODE" default:"stream"`
	MaxRetries      int                `envconfig:"MAX_RETRIES" default:"3"`
	Timeout         time.Duration      `envconfig:"TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration      `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	HistorySize     int                `envconfig:"HISTORY_SIZE" default:"100"`
	RateLimits      map[string]float64 `envconfig:"RATE_LIMITS"` // e.g. send_email:5,deliver_webhook:10
}

type SchedulerConfig struct {
	Enabled              bool          `envconfig:"ENABLED" default:"true"`
	Timezone             string        `envconfig:"TIMEZONE" default:"Local"`
	TaskTimeout          time.Duration `envconfig:"TASK_TIMEOUT" default:"5m"`
	DailyAnalytics       string        `envconfig:"DAILY_ANALYTICS" default:"0 1 * * *"`
	CleanupLogs          string        `envconfig:"CLEANUP_LOGS" default:"0 2 * * *"`
	SubscriptionRenewals string        `envconfig:"SUBSCRIPTION_RENEWALS" default:"0 * * * *"`
	DailyReports         string        `envconfig:"DAILY_REPORTS" default:"0 9 * * *"`
	CleanupTokens        string        `envconfig:"CLEANUP_TOKENS" default:"0 */6 * * *"`
	ArchiveData          string        `envconfig:"ARCHIVE_DATA" default:"0 3 1 * *"`
	LogRetentionDays     int           `envconfig:"LOG_RETENTION_DAYS" default:"30"`
}

type EventsConfig struct {
	MaxDepth int `envconfig:"MAX_DEPTH" default:"8"`
}

type SMTPConfig struct {
	Host     string        `envconfig:"HOST" default:""`
	Port     int           `envconfig:"PORT" default:"587"`
	Username string        `envconfig:"USERNAME" default:""`
	Password string        `envconfig:"PASSWORD" default:""`
	From     string        `envconfig:"FROM" default:"TapOnn <noreply@taponn.com>"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

type WebhookConfig struct {
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL"  default:"info"`
	Format string `envconfig:"FORMAT" default:"console"` // json in prod
}

type TracingConfig struct {
	Enabled      bool   `envconfig:"ENABLED" default:"false"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"jobcore"`
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
}

type AdminConfig struct {
	APIKeys   []string `envconfig:"API_KEYS"`
	RateLimit float64  `envconfig:"RATE_LIMIT" default:"10"` // requests per second per client
	RateBurst int      `envconfig:"RATE_BURST" default:"20"`
}

// Address returns the full server address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Location resolves the scheduler timezone
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Schedules returns the cron expression of each maintenance task
func (s SchedulerConfig) Schedules() scheduler.Schedules {
	return scheduler.Schedules{
		DailyAnalytics:       s.DailyAnalytics,
		CleanupLogs:          s.CleanupLogs,
		SubscriptionRenewals: s.SubscriptionRenewals,
		DailyReports:         s.DailyReports,
		CleanupTokens:        s.CleanupTokens,
		ArchiveData:          s.ArchiveData,
	}
}

// Load reads config from env variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own. Cron
// expressions are not rejected here: the scheduler logs and skips them.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got: %d", c.Worker.Concurrency)
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got: %d", c.Worker.MaxRetries)
	}

	if c.Worker.Timeout <= 0 {
		return fmt.Errorf("worker timeout must be positive, got: %s", c.Worker.Timeout)
	}

	if c.Worker.Mode != "stream" && c.Worker.Mode != "batch" {
		return fmt.Errorf("worker mode must be stream or batch, got: %q", c.Worker.Mode)
	}

	for jobType, limit := range c.Worker.RateLimits {
		if limit <= 0 {
			return fmt.Errorf("rate limit for %s must be positive, got: %v", jobType, limit)
		}
	}

	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	if c.Events.MaxDepth <= 0 {
		return fmt.Errorf("events max depth must be positive, got: %d", c.Events.MaxDepth)
	}

	if c.Admin.RateLimit <= 0 || c.Admin.RateBurst <= 0 {
		return fmt.Errorf("admin rate limit and burst must be positive")
	}

	return nil
}

// InvalidSchedules lists the maintenance tasks whose cron expression does
// not parse, for logging at startup.
func (c *Config) InvalidSchedules() map[string]error {
	out := make(map[string]error)
	s := c.Scheduler
	for name, expr := range map[string]string{
		scheduler.TaskDailyAnalytics:       s.DailyAnalytics,
		scheduler.TaskCleanupLogs:          s.CleanupLogs,
		scheduler.TaskSubscriptionRenewals: s.SubscriptionRenewals,
		scheduler.TaskDailyReports:         s.DailyReports,
		scheduler.TaskCleanupTokens:        s.CleanupTokens,
		scheduler.TaskArchiveData:          s.ArchiveData,
	} {
		if _, err := scheduler.ParseSchedule(expr); err != nil {
			out[name] = err
		}
	}
	return out
}
