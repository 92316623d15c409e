package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

// WebhookStore finds the endpoints to deliver an event to
type WebhookStore interface {
	OwnerLookup
	ActiveWebhooks(ctx context.Context, userID, eventType string) ([]store.Webhook, error)
}

type WebhookHandler struct {
	store  WebhookStore
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookHandler(s WebhookStore, timeout time.Duration, logger *zap.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{
		store:  s,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (h *WebhookHandler) Type() string { return TypeDeliverWebhook }

func (h *WebhookHandler) Description() string {
	return "Posts an event to the user's registered webhooks"
}

type webhookBody struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Handle posts to every matching webhook. One failed endpoint fails the job,
// so endpoints that already accepted the event may receive it again on retry.
func (h *WebhookHandler) Handle(ctx context.Context, j *types.Job) error {
	var payload WebhookPayload
	if err := decode(j, &payload); err != nil {
		return err
	}
	if payload.Event == "" {
		return missing(j, "event")
	}

	userID := payload.UserID
	if userID == "" {
		if payload.ProfileID == "" {
			return missing(j, "user_id")
		}
		owner, err := h.store.ProfileOwner(ctx, payload.ProfileID)
		if errors.Is(err, store.ErrNotFound) {
			return job.Permanent(err)
		}
		if err != nil {
			return err
		}
		userID = owner.UserID
	}

	hooks, err := h.store.ActiveWebhooks(ctx, userID, payload.Event)
	if err != nil {
		return err
	}
	if len(hooks) == 0 {
		return nil
	}

	data := payload.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(webhookBody{
		Event:     payload.Event,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return job.Permanent(fmt.Errorf("failed to encode webhook body: %w", err))
	}

	var errs []error
	for _, hook := range hooks {
		if err := h.post(ctx, hook, payload.Event, body); err != nil {
			h.logger.Warn("Webhook delivery failed",
				zap.String("job_id", j.ID),
				zap.String("webhook_id", hook.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.ID, err))
			continue
		}
		h.logger.Info("Webhook delivered",
			zap.String("job_id", j.ID),
			zap.String("webhook_id", hook.ID),
			zap.String("event", payload.Event),
		)
	}
	return errors.Join(errs...)
}

func (h *WebhookHandler) post(ctx context.Context, hook store.Webhook, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", hook.Secret)
	req.Header.Set("X-Webhook-Event", event)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
