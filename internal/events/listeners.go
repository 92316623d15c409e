package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/pkg/types"
)

// Event names with default listeners
const (
	UserRegistered        = "user.registered"
	UserLogin             = "user.login"
	UserPasswordReset     = "user.password_reset"
	ProfileCreated        = "profile.created"
	ProfileUpdated        = "profile.updated"
	ProfileViewed         = "profile.viewed"
	LeadCreated           = "lead.created"
	LeadUpdated           = "lead.updated"
	BookingCreated        = "booking.created"
	BookingConfirmed      = "booking.confirmed"
	BookingCancelled      = "booking.cancelled"
	PaymentSuccess        = "payment.success"
	PaymentFailed         = "payment.failed"
	SubscriptionUpgraded  = "subscription.upgraded"
	SubscriptionCancelled = "subscription.cancelled"

	AnalyticsTrack = "analytics.track"
	WebhookTrigger = "webhook.trigger"
	CacheClear     = "cache.clear"
	QRGenerate     = "qr.generate"
)

// Enqueuer submits background jobs
type Enqueuer interface {
	Add(ctx context.Context, jobType string, payload any, opts ...types.JobOption) (string, error)
}

// AnalyticsRecorder persists tracked events
type AnalyticsRecorder interface {
	RecordAnalyticsEvent(ctx context.Context, eventID, eventType, userID, profileID string, properties []byte) error
}

// CacheInvalidator drops cached keys matching a glob pattern
type CacheInvalidator interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// ListenerDeps are the collaborators of the default listeners. Analytics and
// Cache are optional; without them the matching sink is not registered.
type ListenerDeps struct {
	Queue     Enqueuer
	Analytics AnalyticsRecorder
	Cache     CacheInvalidator
	Logger    *zap.Logger
}

type listeners struct {
	d      *Dispatcher
	deps   ListenerDeps
	logger *zap.Logger
}

// RegisterListeners wires the platform's default reactions to domain events
func RegisterListeners(d *Dispatcher, deps ListenerDeps) {
	l := &listeners{d: d, deps: deps, logger: deps.Logger}

	d.On(UserRegistered, l.onUserRegistered)
	d.On(UserLogin, l.onUserLogin)
	d.On(UserPasswordReset, l.notify("Password Reset Successful", "email",
		func(Payload) string { return "<p>Your password has been reset successfully.</p>" }))

	d.On(ProfileCreated, l.onProfileCreated)
	d.On(ProfileUpdated, l.onProfileUpdated)
	d.On(ProfileViewed, l.onProfileViewed)

	d.On(LeadCreated, l.onLeadCreated)
	d.On(LeadUpdated, l.forwardWebhook(LeadUpdated))

	d.On(BookingCreated, l.notify("Booking Confirmation", "customer_email", func(p Payload) string {
		return fmt.Sprintf("<p>Your booking has been created successfully.</p>\n<p>Date: %s</p>\n<p>Time: %s</p>",
			esc(p, "booking_date"), esc(p, "booking_time"))
	}))
	d.On(BookingCreated, l.forwardWebhook(BookingCreated))
	d.On(BookingConfirmed, l.notify("Booking Confirmed", "customer_email",
		func(Payload) string { return "<p>Your booking has been confirmed!</p>" }))
	d.On(BookingCancelled, l.notify("Booking Cancelled", "customer_email",
		func(Payload) string { return "<p>Your booking has been cancelled.</p>" }))

	d.On(PaymentSuccess, l.notify("Payment Receipt", "email", func(p Payload) string {
		return fmt.Sprintf("<p>Payment successful!</p>\n<p>Amount: %s %s</p>\n<p>Order ID: %s</p>",
			esc(p, "amount"), esc(p, "currency"), esc(p, "order_id"))
	}))
	d.On(PaymentSuccess, l.forwardWebhook(PaymentSuccess))
	d.On(PaymentFailed, l.notify("Payment Failed", "email",
		func(Payload) string { return "<p>Your payment failed. Please try again.</p>" }))

	d.On(SubscriptionUpgraded, l.notify("Subscription Upgraded", "email", func(p Payload) string {
		return fmt.Sprintf("<p>Your subscription has been upgraded to %s!</p>", esc(p, "plan_name"))
	}))
	d.On(SubscriptionCancelled, l.notify("Subscription Cancelled", "email",
		func(Payload) string { return "<p>Your subscription has been cancelled.</p>" }))

	d.On(WebhookTrigger, l.onWebhookTrigger)
	if deps.Analytics != nil {
		d.On(AnalyticsTrack, l.onAnalyticsTrack)
	} else {
		l.logger.Warn("No analytics recorder configured, analytics.track events are ignored")
	}
	if deps.Cache != nil {
		d.On(CacheClear, l.onCacheClear)
	} else {
		l.logger.Warn("No cache configured, cache.clear events are ignored")
	}

	l.logger.Info("Event listeners initialized", zap.Int("events", len(d.Events())))
}

func (l *listeners) onUserRegistered(ctx context.Context, p Payload) error {
	l.logger.Info("User registered event", zap.String("user_id", str(p, "user_id")))

	_, err := l.deps.Queue.Add(ctx, handlers.TypeSendWelcomeEmail, handlers.WelcomeEmailPayload{
		Email: str(p, "email"),
		Name:  str(p, "full_name"),
	})

	l.d.Emit(ctx, AnalyticsTrack, Payload{
		"event":      "user_registered",
		"user_id":    p["user_id"],
		"properties": map[string]any{"email": p["email"]},
	})
	return err
}

func (l *listeners) onUserLogin(ctx context.Context, p Payload) error {
	l.d.Emit(ctx, AnalyticsTrack, Payload{
		"event":      "user_login",
		"user_id":    p["user_id"],
		"properties": map[string]any{"ip": p["ip"]},
	})
	return nil
}

func (l *listeners) onProfileCreated(ctx context.Context, p Payload) error {
	l.logger.Info("Profile created event", zap.String("profile_id", str(p, "profile_id")))

	l.d.Emit(ctx, QRGenerate, Payload{
		"profile_id": p["profile_id"],
		"username":   p["username"],
	})
	l.d.Emit(ctx, AnalyticsTrack, Payload{
		"event":      "profile_created",
		"user_id":    p["user_id"],
		"properties": map[string]any{"profile_id": p["profile_id"]},
	})
	return nil
}

func (l *listeners) onProfileUpdated(ctx context.Context, p Payload) error {
	id := str(p, "profile_id")
	if id == "" {
		return fmt.Errorf("%s: profile_id is required", ProfileUpdated)
	}
	l.d.Emit(ctx, CacheClear, Payload{"pattern": "profile:" + id + ":*"})
	return nil
}

func (l *listeners) onProfileViewed(ctx context.Context, p Payload) error {
	l.d.Emit(ctx, AnalyticsTrack, Payload{
		"event":      "profile_view",
		"profile_id": p["profile_id"],
		"properties": map[string]any{
			"viewer_ip": p["ip"],
			"referrer":  p["referrer"],
		},
	})
	return nil
}

func (l *listeners) onLeadCreated(ctx context.Context, p Payload) error {
	l.logger.Info("Lead created event", zap.String("lead_id", str(p, "lead_id")))

	_, err := l.deps.Queue.Add(ctx, handlers.TypeSendLeadNotification, handlers.LeadNotificationPayload{
		ProfileID: str(p, "profile_id"),
		LeadName:  str(p, "name"),
		LeadEmail: str(p, "email"),
		LeadPhone: str(p, "phone"),
		Company:   str(p, "company"),
		Message:   str(p, "message"),
	})

	l.d.Emit(ctx, WebhookTrigger, Payload{"event": LeadCreated, "data": map[string]any(p)})
	l.d.Emit(ctx, AnalyticsTrack, Payload{
		"event":      "lead_created",
		"profile_id": p["profile_id"],
		"properties": map[string]any{"source": p["source"]},
	})
	return err
}

// notify queues an email to the address stored under key
func (l *listeners) notify(subject, key string, body func(Payload) string) Handler {
	return func(ctx context.Context, p Payload) error {
		to := str(p, key)
		if to == "" {
			return fmt.Errorf("cannot send %q: %s is missing", subject, key)
		}
		_, err := l.deps.Queue.Add(ctx, handlers.TypeSendEmail, handlers.EmailPayload{
			To:      to,
			Subject: subject,
			HTML:    body(p),
		})
		return err
	}
}

func (l *listeners) forwardWebhook(event string) Handler {
	return func(ctx context.Context, p Payload) error {
		l.d.Emit(ctx, WebhookTrigger, Payload{"event": event, "data": map[string]any(p)})
		return nil
	}
}

// onWebhookTrigger queues delivery to the owner's webhooks. The owner is the
// data's user_id, or else the owner of its profile_id.
func (l *listeners) onWebhookTrigger(ctx context.Context, p Payload) error {
	event := str(p, "event")
	if event == "" {
		return fmt.Errorf("%s: event is required", WebhookTrigger)
	}

	data, _ := p["data"].(map[string]any)
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%s: failed to encode data: %w", WebhookTrigger, err)
	}

	payload := handlers.WebhookPayload{
		UserID:    str(data, "user_id"),
		ProfileID: str(data, "profile_id"),
		Event:     event,
		Data:      raw,
	}
	if payload.UserID == "" && payload.ProfileID == "" {
		return fmt.Errorf("%s %s: data has neither user_id nor profile_id", WebhookTrigger, event)
	}

	_, err = l.deps.Queue.Add(ctx, handlers.TypeDeliverWebhook, payload)
	return err
}

func (l *listeners) onAnalyticsTrack(ctx context.Context, p Payload) error {
	event := str(p, "event")
	if event == "" {
		return errors.New("analytics event name is required")
	}

	props := p["properties"]
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode analytics properties: %w", err)
	}

	return l.deps.Analytics.RecordAnalyticsEvent(ctx, uuid.NewString(), event,
		str(p, "user_id"), str(p, "profile_id"), raw)
}

func (l *listeners) onCacheClear(ctx context.Context, p Payload) error {
	pattern := str(p, "pattern")
	if pattern == "" {
		return fmt.Errorf("%s: pattern is required", CacheClear)
	}

	n, err := l.deps.Cache.DeletePattern(ctx, pattern)
	if err != nil {
		return err
	}
	l.logger.Debug("Cache cleared", zap.String("pattern", pattern), zap.Int("keys", n))
	return nil
}

// str reads a payload value as a string. Numbers are formatted without
// exponent so IDs decoded from JSON keep their digits.
func str(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func esc(p Payload, key string) string {
	return html.EscapeString(str(p, key))
}
