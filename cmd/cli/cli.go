package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/api"
	"github.com/taponn/jobcore/internal/config"
	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/internal/queue"
	"github.com/taponn/jobcore/internal/scheduler"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "jobctl inspects the TapOnn background job core",
	Long: `Operator tool for the TapOnn job queue, scheduler and failed-job record.
Queue and scheduler commands talk to the admin API of a running server.`,
}

var (
	cfg    *config.Config
	logger *zap.Logger

	adminURL string
	apiKey   string
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	// Initialize logger
	logger, _ = zap.NewDevelopment()

	rootCmd.PersistentFlags().StringVar(&adminURL, "server", "", "Admin API base URL (default from SERVER_HOST/SERVER_PORT)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key (default first of ADMIN_API_KEYS)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if adminURL == "" {
			adminURL = "http://" + cfg.Server.Address()
		}
		if apiKey == "" && len(cfg.Admin.APIKeys) > 0 {
			apiKey = cfg.Admin.APIKeys[0]
		}
		return nil
	}

	setupCommands()
}

func setupCommands() {
	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show job queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printQueueStatus(cmd.OutOrStdout())
		},
	}

	var clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.ClearQueueResponse
			if err := adminRequest(cmd.Context(), http.MethodDelete, "/api/v1/queue", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d pending jobs\n", resp.Removed)
			return nil
		},
	}

	var tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Show configured maintenance tasks and their next runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSchedules(cmd.OutOrStdout(), time.Now())
		},
	}

	var runTaskCmd = &cobra.Command{
		Use:   "run-task NAME",
		Short: "Run a scheduled task now on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.RunTaskResponse
			if err := adminRequest(cmd.Context(), http.MethodPost, "/api/v1/scheduler/tasks/"+args[0]+"/run", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %s\n", resp.Task, resp.Status, resp.Duration)
			if resp.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %s\n", resp.Error)
			}
			return nil
		},
	}

	var jobTypesCmd = &cobra.Command{
		Use:   "job-types",
		Short: "List the job types this build can process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJobTypes(cmd.OutOrStdout())
		},
	}

	// List failed jobs command
	var offset, limit int
	var listFailedCmd = &cobra.Command{
		Use:   "list-failed",
		Short: "List failed jobs in the dead letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listFailedJobs(cmd.Context(), cmd.OutOrStdout(), offset, limit)
		},
	}
	listFailedCmd.Flags().IntVarP(&offset, "offset", "o", 0, "Entries to skip")
	listFailedCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Entries to show")

	// Health check command
	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check Redis and database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(runTaskCmd)
	rootCmd.AddCommand(jobTypesCmd)
	rootCmd.AddCommand(listFailedCmd)
	rootCmd.AddCommand(healthCmd)
}

// adminRequest calls the admin API and decodes the JSON body into out
func adminRequest(ctx context.Context, method, path string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, adminURL+path, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("admin API unreachable at %s: %w", adminURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s %s", resp.Status, e.Error, e.Details)
		}
		return fmt.Errorf("admin API returned %s", resp.Status)
	}

	return json.Unmarshal(body, out)
}

func printQueueStatus(w io.Writer) error {
	var st api.QueueStatusResponse
	if err := adminRequest(context.Background(), http.MethodGet, "/api/v1/queue/status", &st); err != nil {
		return err
	}

	fmt.Fprintf(w, "Queue Status:\n")
	fmt.Fprintf(w, "-------------\n")
	fmt.Fprintf(w, "Mode:          %s\n", st.Mode)
	fmt.Fprintf(w, "Processing:    %t\n", st.Processing)
	fmt.Fprintf(w, "Workers:       %d (%d busy)\n", st.Workers, st.Active)
	fmt.Fprintf(w, "Pending:       %d\n", st.QueueLength)
	fmt.Fprintf(w, "Dead letters:  %d\n", st.DeadLetters)
	fmt.Fprintf(w, "Totals:        %d enqueued, %d completed, %d failed, %d retried\n",
		st.Totals.Enqueued, st.Totals.Completed, st.Totals.Failed, st.Totals.Retried)

	if len(st.Jobs) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tATTEMPTS")
	for _, j := range st.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", j.ID, j.Type, j.Status, j.Options.Priority, j.Attempts)
	}
	return tw.Flush()
}

// printSchedules shows each maintenance task with its next fire time. It
// reads the local configuration, not the server.
func printSchedules(w io.Writer, now time.Time) error {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	now = now.In(loc)

	s := cfg.Scheduler.Schedules()
	rows := []struct{ name, expr string }{
		{scheduler.TaskDailyAnalytics, s.DailyAnalytics},
		{scheduler.TaskCleanupLogs, s.CleanupLogs},
		{scheduler.TaskSubscriptionRenewals, s.SubscriptionRenewals},
		{scheduler.TaskDailyReports, s.DailyReports},
		{scheduler.TaskCleanupTokens, s.CleanupTokens},
		{scheduler.TaskArchiveData, s.ArchiveData},
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSCHEDULE\tNEXT RUN")
	for _, r := range rows {
		next := "invalid"
		if sched, err := scheduler.ParseSchedule(r.expr); err == nil {
			next = sched.Next(now).Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.name, r.expr, next)
	}
	if !cfg.Scheduler.Enabled {
		fmt.Fprintln(tw, "\t(scheduler disabled)\t")
	}
	return tw.Flush()
}

// printJobTypes builds the handler registry the way the server does, with a
// log-only mailer so no SMTP connection is made.
func printJobTypes(w io.Writer) error {
	registry := job.NewRegistry(zap.NewNop())
	err := handlers.Register(registry, handlers.Deps{
		Mailer: mailer.NewLogMailer(zap.NewNop()),
		Store:  noStore{},
		Logger: zap.NewNop(),
	})
	if err != nil {
		return err
	}

	descs := registry.ListHandlers()
	names := make([]string, 0, len(descs))
	for name := range descs {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tDESCRIPTION")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, descs[name])
	}
	if cfg.Database.URL == "" {
		fmt.Fprintln(tw, "\t(DATABASE_URL unset: only email types run on the server)")
	}
	return tw.Flush()
}

func listFailedJobs(ctx context.Context, w io.Writer, offset, limit int) error {
	if cfg.Redis.URL == "" {
		// The in-memory record lives in the server process
		var resp api.ListFailedJobsResponse
		path := fmt.Sprintf("/api/v1/dlq?offset=%d&limit=%d", offset, limit)
		if err := adminRequest(ctx, http.MethodGet, path, &resp); err != nil {
			return err
		}
		return printFailed(w, resp.Jobs, resp.TotalCount)
	}

	client, err := queue.NewRedisClient(redisOptions())
	if err != nil {
		return err
	}
	defer client.Close()

	dlq := queue.NewRedisDLQ(client, cfg.Redis.DLQMaxLen)
	if ctx == nil {
		ctx = context.Background()
	}
	jobs, err := dlq.List(ctx, offset, limit)
	if err != nil {
		return err
	}
	total, err := dlq.Size(ctx)
	if err != nil {
		return err
	}
	return printFailed(w, jobs, total)
}

func printFailed(w io.Writer, jobs []*types.FailedJobInfo, total int) error {
	fmt.Fprintf(w, "Failed jobs: %d\n", total)
	if len(jobs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAILED AT\tID\tTYPE\tATTEMPTS\tERROR")
	for _, f := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			f.FailedAt.Format(time.RFC3339), f.Job.ID, f.Job.Type, f.Job.Attempts, f.Error)
	}
	return tw.Flush()
}

func checkHealth(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	healthy := true

	if cfg.Redis.URL != "" {
		client, err := queue.NewRedisClient(redisOptions())
		if err != nil {
			logger.Error("Redis health check failed", zap.Error(err))
			fmt.Fprintln(w, "❌ Redis: connection error")
			healthy = false
		} else {
			defer client.Close()
			if err := queue.RedisHealth(ctx, client); err != nil {
				fmt.Fprintln(w, "❌ Redis: unhealthy")
				healthy = false
			} else {
				fmt.Fprintln(w, "✅ Redis: connected and healthy")
			}
		}
	} else {
		fmt.Fprintln(w, "➖ Redis: not configured")
	}

	if cfg.Database.URL != "" {
		db, err := store.New(ctx, cfg.Database.URL, 1, zap.NewNop())
		if err != nil {
			logger.Error("Database health check failed", zap.Error(err))
			fmt.Fprintln(w, "❌ Database: connection error")
			healthy = false
		} else {
			db.Close()
			fmt.Fprintln(w, "✅ Database: connected and healthy")
		}
	} else {
		fmt.Fprintln(w, "➖ Database: not configured")
	}

	if !healthy {
		return fmt.Errorf("system health check failed")
	}
	return nil
}

func redisOptions() queue.RedisOptions {
	return queue.RedisOptions{
		URL:            cfg.Redis.URL,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		ConnectTimeout: cfg.Redis.Timeout,
		CommandTimeout: cfg.Redis.Timeout,
	}
}

// noStore satisfies handlers.DataStore so every handler can be listed
// without a database. It is never called.
type noStore struct{}

func (noStore) AggregateDailyAnalytics(context.Context, time.Time) (int64, error) { return 0, nil }
func (noStore) DeleteAuditLogsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (noStore) DeleteAnalyticsEventsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (noStore) DeleteExpiredTokens(context.Context, time.Time) (int64, error) { return 0, nil }
func (noStore) ReportSummary(context.Context, string, time.Time) (store.ReportSummary, error) {
	return store.ReportSummary{}, nil
}
func (noStore) ProfileOwner(context.Context, string) (store.Owner, error) {
	return store.Owner{}, store.ErrNotFound
}
func (noStore) ActiveWebhooks(context.Context, string, string) ([]store.Webhook, error) {
	return nil, nil
}
