package handlers

import (
	"context"
	"errors"
	"fmt"
	"html"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

type EmailJobHandler struct {
	mailer mailer.Mailer
	logger *zap.Logger
}

func NewEmailJobHandler(m mailer.Mailer, logger *zap.Logger) *EmailJobHandler {
	return &EmailJobHandler{mailer: m, logger: logger}
}

func (h *EmailJobHandler) Type() string {
	return TypeSendEmail
}

func (h *EmailJobHandler) Description() string {
	return "Sends an email to a single recipient"
}

func (h *EmailJobHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload EmailPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.To == "" {
		return missing(j, "to")
	}
	if payload.Subject == "" {
		return missing(j, "subject")
	}

	h.logger.Info("Sending email",
		zap.String("job_id", j.ID),
		zap.String("to", payload.To),
		zap.String("subject", payload.Subject),
	)

	return h.mailer.Send(ctx, mailer.Message{
		To:      payload.To,
		Subject: payload.Subject,
		HTML:    payload.HTML,
		Text:    payload.Text,
	})
}

type WelcomeEmailHandler struct {
	mailer mailer.Mailer
}

func NewWelcomeEmailHandler(m mailer.Mailer) *WelcomeEmailHandler {
	return &WelcomeEmailHandler{mailer: m}
}

func (h *WelcomeEmailHandler) Type() string { return TypeSendWelcomeEmail }

func (h *WelcomeEmailHandler) Description() string {
	return "Sends the welcome email to a newly registered user"
}

func (h *WelcomeEmailHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload WelcomeEmailPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.Email == "" {
		return missing(j, "email")
	}

	body := fmt.Sprintf(`<h1>Welcome to TapOnn, %s!</h1>
<p>Thank you for joining us. Start creating your digital business card today.</p>
<p>Best regards,<br>TapOnn Team</p>`, html.EscapeString(payload.Name))

	return h.mailer.Send(ctx, mailer.Message{
		To:      payload.Email,
		Subject: "Welcome to TapOnn!",
		HTML:    body,
	})
}

// OwnerLookup resolves the account behind a profile
type OwnerLookup interface {
	ProfileOwner(ctx context.Context, profileID string) (store.Owner, error)
}

type LeadNotificationHandler struct {
	mailer mailer.Mailer
	owners OwnerLookup
}

func NewLeadNotificationHandler(m mailer.Mailer, owners OwnerLookup) *LeadNotificationHandler {
	return &LeadNotificationHandler{mailer: m, owners: owners}
}

func (h *LeadNotificationHandler) Type() string { return TypeSendLeadNotification }

func (h *LeadNotificationHandler) Description() string {
	return "Notifies a profile owner about a newly captured lead"
}

func (h *LeadNotificationHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload LeadNotificationPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.LeadName == "" {
		return missing(j, "lead_name")
	}

	to := payload.OwnerEmail
	if to == "" {
		if payload.ProfileID == "" {
			return missing(j, "profile_id")
		}
		owner, err := h.owners.ProfileOwner(ctx, payload.ProfileID)
		if errors.Is(err, store.ErrNotFound) {
			return job.Permanent(err)
		}
		if err != nil {
			return err
		}
		to = owner.Email
	}

	body := fmt.Sprintf(`<h1>New Lead Captured</h1>
<p><strong>Name:</strong> %s</p>
<p><strong>Email:</strong> %s</p>
<p><strong>Phone:</strong> %s</p>
<p><strong>Company:</strong> %s</p>
<p><strong>Message:</strong> %s</p>`,
		html.EscapeString(payload.LeadName),
		orNA(payload.LeadEmail),
		orNA(payload.LeadPhone),
		orNA(payload.Company),
		orNA(payload.Message),
	)

	return h.mailer.Send(ctx, mailer.Message{
		To:      to,
		Subject: "New Lead Captured!",
		HTML:    body,
	})
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return html.EscapeString(s)
}
