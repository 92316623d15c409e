package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

// Task names
const (
	TaskDailyAnalytics       = "daily-analytics"
	TaskCleanupLogs          = "cleanup-logs"
	TaskSubscriptionRenewals = "subscription-renewals"
	TaskDailyReports         = "daily-reports"
	TaskCleanupTokens        = "cleanup-tokens"
	TaskArchiveData          = "archive-data"
)

// Enqueuer submits jobs to the background queue
type Enqueuer interface {
	Add(ctx context.Context, jobType string, payload any, opts ...types.JobOption) (string, error)
}

// MaintenanceStore is the data the maintenance tasks read or update directly
type MaintenanceStore interface {
	SubscriptionsDueForRenewal(ctx context.Context, before time.Time) ([]store.Subscription, error)
	DailyReportRecipients(ctx context.Context) ([]store.Recipient, error)
	ArchiveLeadsBefore(ctx context.Context, before time.Time) (int64, error)
	ArchiveBookingsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Schedules holds the cron expression of each maintenance task
type Schedules struct {
	DailyAnalytics       string
	CleanupLogs          string
	SubscriptionRenewals string
	DailyReports         string
	CleanupTokens        string
	ArchiveData          string
}

func DefaultSchedules() Schedules {
	return Schedules{
		DailyAnalytics:       "0 1 * * *",
		CleanupLogs:          "0 2 * * *",
		SubscriptionRenewals: "0 * * * *",
		DailyReports:         "0 9 * * *",
		CleanupTokens:        "0 */6 * * *",
		ArchiveData:          "0 3 1 * *",
	}
}

// Maintenance holds the bodies of the platform's recurring tasks. Most of
// them only enqueue jobs; archiving runs inline.
type Maintenance struct {
	store  MaintenanceStore
	queue  Enqueuer
	logger *zap.Logger
	now    func() time.Time

	LogRetentionDays int
	ArchiveAfter     time.Duration
}

func NewMaintenance(s MaintenanceStore, q Enqueuer, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		store:            s,
		queue:            q,
		logger:           logger,
		now:              time.Now,
		LogRetentionDays: 30,
		ArchiveAfter:     365 * 24 * time.Hour,
	}
}

// Tasks returns the six maintenance tasks with the given schedules
func (m *Maintenance) Tasks(s Schedules) []Task {
	return []Task{
		{Name: TaskDailyAnalytics, Schedule: s.DailyAnalytics, Run: m.DailyAnalytics},
		{Name: TaskCleanupLogs, Schedule: s.CleanupLogs, Run: m.CleanupLogs},
		{Name: TaskSubscriptionRenewals, Schedule: s.SubscriptionRenewals, Run: m.SubscriptionRenewals},
		{Name: TaskDailyReports, Schedule: s.DailyReports, Run: m.DailyReports},
		{Name: TaskCleanupTokens, Schedule: s.CleanupTokens, Run: m.CleanupTokens},
		{Name: TaskArchiveData, Schedule: s.ArchiveData, Run: m.ArchiveData},
	}
}

// DailyAnalytics queues aggregation of yesterday's events
func (m *Maintenance) DailyAnalytics(ctx context.Context) error {
	yesterday := m.now().AddDate(0, 0, -1).Format("2006-01-02")
	_, err := m.queue.Add(ctx, handlers.TypeAggregateAnalytics, handlers.AnalyticsPayload{Date: yesterday})
	return err
}

func (m *Maintenance) CleanupLogs(ctx context.Context) error {
	_, err := m.queue.Add(ctx, handlers.TypeCleanupData, handlers.CleanupPayload{
		Target:        handlers.CleanupLogs,
		RetentionDays: m.LogRetentionDays,
	})
	return err
}

func (m *Maintenance) CleanupTokens(ctx context.Context) error {
	_, err := m.queue.Add(ctx, handlers.TypeCleanupData, handlers.CleanupPayload{Target: handlers.CleanupTokens})
	return err
}

// SubscriptionRenewals queues a reminder for every auto-renewing subscription
// ending within a day.
func (m *Maintenance) SubscriptionRenewals(ctx context.Context) error {
	subs, err := m.store.SubscriptionsDueForRenewal(ctx, m.now().Add(24*time.Hour))
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		_, err := m.queue.Add(ctx, handlers.TypeSendEmail, handlers.EmailPayload{
			To:      sub.Email,
			Subject: "Subscription Renewal Reminder",
			HTML: fmt.Sprintf("<p>Hi %s,</p>\n<p>Your subscription will renew tomorrow.</p>",
				html.EscapeString(sub.Name)),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}

	m.logger.Info("Checked subscriptions for renewal", zap.Int("count", len(subs)))
	return errors.Join(errs...)
}

// DailyReports queues a daily report for every opted-in user
func (m *Maintenance) DailyReports(ctx context.Context) error {
	users, err := m.store.DailyReportRecipients(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range users {
		_, err := m.queue.Add(ctx, handlers.TypeGenerateReport, handlers.ReportPayload{
			UserID:     u.UserID,
			ReportType: "daily",
			Email:      u.Email,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u.UserID, err))
		}
	}

	m.logger.Info("Queued daily reports", zap.Int("users", len(users)))
	return errors.Join(errs...)
}

// ArchiveData flags leads and bookings older than ArchiveAfter as archived
func (m *Maintenance) ArchiveData(ctx context.Context) error {
	cutoff := m.now().Add(-m.ArchiveAfter)

	leads, err := m.store.ArchiveLeadsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	bookings, err := m.store.ArchiveBookingsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	m.logger.Info("Old data archived",
		zap.Int64("leads", leads),
		zap.Int64("bookings", bookings),
	)
	return nil
}
