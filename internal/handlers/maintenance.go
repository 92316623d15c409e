package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

const dateLayout = "2006-01-02"

// AnalyticsStore aggregates raw analytics events
type AnalyticsStore interface {
	AggregateDailyAnalytics(ctx context.Context, day time.Time) (int64, error)
}

type AnalyticsHandler struct {
	store  AnalyticsStore
	logger *zap.Logger
}

func NewAnalyticsHandler(s AnalyticsStore, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{store: s, logger: logger}
}

func (h *AnalyticsHandler) Type() string { return TypeAggregateAnalytics }

func (h *AnalyticsHandler) Description() string {
	return "Rolls one day of analytics events into the daily summary table"
}

func (h *AnalyticsHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload AnalyticsPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.Date == "" {
		return missing(j, "date")
	}
	day, err := time.Parse(dateLayout, payload.Date)
	if err != nil {
		return job.Permanent(fmt.Errorf("invalid %s payload: %w", j.Type, err))
	}

	rows, err := h.store.AggregateDailyAnalytics(ctx, day)
	if err != nil {
		return err
	}

	h.logger.Info("Daily analytics aggregated",
		zap.String("job_id", j.ID),
		zap.String("date", payload.Date),
		zap.Int64("rows", rows),
	)
	return nil
}

// CleanupStore deletes expired rows
type CleanupStore interface {
	DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteAnalyticsEventsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type CleanupHandler struct {
	store  CleanupStore
	logger *zap.Logger
	now    func() time.Time
}

func NewCleanupHandler(s CleanupStore, logger *zap.Logger) *CleanupHandler {
	return &CleanupHandler{store: s, logger: logger, now: time.Now}
}

func (h *CleanupHandler) Type() string { return TypeCleanupData }

func (h *CleanupHandler) Description() string {
	return "Deletes old audit logs and analytics events, or expired refresh tokens"
}

func (h *CleanupHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload CleanupPayload
	if err := decode(j, &payload); err != nil {
		return err
	}

	now := h.now()
	switch payload.Target {
	case CleanupLogs:
		days := payload.RetentionDays
		if days <= 0 {
			days = 30
		}
		cutoff := now.AddDate(0, 0, -days)

		audit, err := h.store.DeleteAuditLogsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		events, err := h.store.DeleteAnalyticsEventsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		h.logger.Info("Old logs cleaned up",
			zap.String("job_id", j.ID),
			zap.Int64("audit_logs", audit),
			zap.Int64("analytics_events", events),
		)

	case CleanupTokens:
		n, err := h.store.DeleteExpiredTokens(ctx, now)
		if err != nil {
			return err
		}
		h.logger.Info("Expired tokens cleaned up",
			zap.String("job_id", j.ID),
			zap.Int64("tokens", n),
		)

	default:
		return job.Permanent(fmt.Errorf("invalid %s payload: unknown target %q", j.Type, payload.Target))
	}
	return nil
}

// ReportStore summarises a user's recent activity
type ReportStore interface {
	ReportSummary(ctx context.Context, userID string, since time.Time) (store.ReportSummary, error)
}

type ReportHandler struct {
	store  ReportStore
	mailer mailer.Mailer
	logger *zap.Logger
	now    func() time.Time
}

func NewReportHandler(s ReportStore, m mailer.Mailer, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{store: s, mailer: m, logger: logger, now: time.Now}
}

func (h *ReportHandler) Type() string { return TypeGenerateReport }

func (h *ReportHandler) Description() string {
	return "Builds an activity report for a user and emails it"
}

func (h *ReportHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload ReportPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.UserID == "" {
		return missing(j, "user_id")
	}
	if payload.Email == "" {
		return missing(j, "email")
	}

	var window time.Duration
	switch payload.ReportType {
	case "", "daily":
		payload.ReportType = "daily"
		window = 24 * time.Hour
	case "weekly":
		window = 7 * 24 * time.Hour
	default:
		return job.Permanent(fmt.Errorf("invalid %s payload: unknown report type %q", j.Type, payload.ReportType))
	}

	since := h.now().Add(-window)
	summary, err := h.store.ReportSummary(ctx, payload.UserID, since)
	if err != nil {
		return err
	}

	body := fmt.Sprintf(`<h1>Your %s report</h1>
<p>Since %s:</p>
<ul>
<li><strong>Profile views:</strong> %d</li>
<li><strong>New leads:</strong> %d</li>
<li><strong>Bookings:</strong> %d</li>
</ul>`, payload.ReportType, since.Format(dateLayout), summary.Views, summary.Leads, summary.Bookings)

	if err := h.mailer.Send(ctx, mailer.Message{
		To:      payload.Email,
		Subject: fmt.Sprintf("Your TapOnn %s report", payload.ReportType),
		HTML:    body,
	}); err != nil {
		return err
	}

	h.logger.Info("Report sent",
		zap.String("job_id", j.ID),
		zap.String("user_id", payload.UserID),
		zap.String("report_type", payload.ReportType),
	)
	return nil
}
