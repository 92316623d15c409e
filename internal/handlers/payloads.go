package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/pkg/types"
)

// Job types understood by the worker pool
const (
	TypeSendEmail            = "send_email"
	TypeSendWelcomeEmail     = "send_welcome_email"
	TypeSendLeadNotification = "send_lead_notification"
	TypeAggregateAnalytics   = "aggregate_analytics"
	TypeCleanupData          = "cleanup_data"
	TypeGenerateReport       = "generate_report"
	TypeDeliverWebhook       = "deliver_webhook"
)

// Cleanup targets for cleanup_data jobs
const (
	CleanupLogs   = "logs"
	CleanupTokens = "tokens"
)

// EmailPayload is a ready-to-send message
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

type WelcomeEmailPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LeadNotificationPayload describes a captured lead. The profile owner is
// looked up when OwnerEmail is empty.
type LeadNotificationPayload struct {
	ProfileID  string `json:"profile_id"`
	OwnerEmail string `json:"owner_email,omitempty"`
	LeadName   string `json:"lead_name"`
	LeadEmail  string `json:"lead_email,omitempty"`
	LeadPhone  string `json:"lead_phone,omitempty"`
	Company    string `json:"company,omitempty"`
	Message    string `json:"message,omitempty"`
}

// AnalyticsPayload names the day to aggregate, formatted 2006-01-02
type AnalyticsPayload struct {
	Date string `json:"date"`
}

type CleanupPayload struct {
	Target        string `json:"target"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

type ReportPayload struct {
	UserID     string `json:"user_id"`
	ReportType string `json:"report_type"`
	Email      string `json:"email"`
}

// WebhookPayload is delivered to every active webhook the user registered for
// Event. When UserID is empty the owner of ProfileID is used.
type WebhookPayload struct {
	UserID    string          `json:"user_id,omitempty"`
	ProfileID string          `json:"profile_id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// decode unmarshals a job payload. Malformed payloads never succeed on retry,
// so the error is permanent.
func decode(j *types.Job, v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return job.Permanent(fmt.Errorf("invalid %s payload: %w", j.Type, err))
	}
	return nil
}

func missing(j *types.Job, field string) error {
	return job.Permanent(fmt.Errorf("invalid %s payload: %s is required", j.Type, field))
}
