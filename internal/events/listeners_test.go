package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/pkg/types"
)

type queued struct {
	jobType string
	payload json.RawMessage
}

type fakeQueue struct {
	jobs []queued
	err  error
}

func (q *fakeQueue) Add(_ context.Context, jobType string, payload any, _ ...types.JobOption) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, queued{jobType: jobType, payload: data})
	return "job_1", nil
}

func (q *fakeQueue) ofType(jobType string) []queued {
	var out []queued
	for _, j := range q.jobs {
		if j.jobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

type tracked struct {
	event, userID, profileID string
	props                    map[string]any
}

type fakeAnalytics struct {
	events []tracked
}

func (a *fakeAnalytics) RecordAnalyticsEvent(_ context.Context, eventID, eventType, userID, profileID string, properties []byte) error {
	if eventID == "" {
		return errors.New("missing event id")
	}
	var props map[string]any
	if err := json.Unmarshal(properties, &props); err != nil {
		return err
	}
	a.events = append(a.events, tracked{event: eventType, userID: userID, profileID: profileID, props: props})
	return nil
}

type fakeCache struct {
	patterns []string
}

func (c *fakeCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	c.patterns = append(c.patterns, pattern)
	return 1, nil
}

func setup(t *testing.T) (*Dispatcher, *fakeQueue, *fakeAnalytics, *fakeCache) {
	t.Helper()
	d := NewDispatcher(zap.NewNop())
	q, a, c := &fakeQueue{}, &fakeAnalytics{}, &fakeCache{}
	RegisterListeners(d, ListenerDeps{Queue: q, Analytics: a, Cache: c, Logger: zap.NewNop()})
	return d, q, a, c
}

func TestUserRegistered(t *testing.T) {
	d, q, a, _ := setup(t)

	d.Emit(context.Background(), UserRegistered, Payload{
		"user_id": float64(42), "email": "ana@example.com", "full_name": "Ana",
	})

	jobs := q.ofType(handlers.TypeSendWelcomeEmail)
	require.Len(t, jobs, 1)
	assert.JSONEq(t, `{"email":"ana@example.com","name":"Ana"}`, string(jobs[0].payload))

	require.Len(t, a.events, 1)
	assert.Equal(t, "user_registered", a.events[0].event)
	assert.Equal(t, "42", a.events[0].userID)
	assert.Equal(t, "ana@example.com", a.events[0].props["email"])
}

func TestLeadCreatedFansOut(t *testing.T) {
	d, q, a, _ := setup(t)

	d.Emit(context.Background(), LeadCreated, Payload{
		"lead_id": "l1", "profile_id": "p1", "name": "Sam", "email": "sam@example.com", "source": "qr",
	})

	notes := q.ofType(handlers.TypeSendLeadNotification)
	require.Len(t, notes, 1)
	var note handlers.LeadNotificationPayload
	require.NoError(t, json.Unmarshal(notes[0].payload, &note))
	assert.Equal(t, "p1", note.ProfileID)
	assert.Equal(t, "Sam", note.LeadName)

	hooks := q.ofType(handlers.TypeDeliverWebhook)
	require.Len(t, hooks, 1)
	var hook handlers.WebhookPayload
	require.NoError(t, json.Unmarshal(hooks[0].payload, &hook))
	assert.Equal(t, LeadCreated, hook.Event)
	assert.Equal(t, "p1", hook.ProfileID)
	assert.JSONEq(t, `{"lead_id":"l1","profile_id":"p1","name":"Sam","email":"sam@example.com","source":"qr"}`, string(hook.Data))

	require.Len(t, a.events, 1)
	assert.Equal(t, "lead_created", a.events[0].event)
	assert.Equal(t, "p1", a.events[0].profileID)
}

func TestLeadCreatedStillFansOutWhenQueueFails(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	q, a := &fakeQueue{err: errors.New("queue closed")}, &fakeAnalytics{}
	RegisterListeners(d, ListenerDeps{Queue: q, Analytics: a, Logger: zap.NewNop()})

	d.Emit(context.Background(), LeadCreated, Payload{"profile_id": "p1", "name": "Sam"})
	assert.Len(t, a.events, 1)
}

func TestBookingAndPaymentEmails(t *testing.T) {
	d, q, _, _ := setup(t)

	d.Emit(context.Background(), BookingCreated, Payload{
		"user_id": "u1", "customer_email": "c@example.com", "booking_date": "2026-11-02", "booking_time": "10:30",
	})
	d.Emit(context.Background(), PaymentSuccess, Payload{
		"user_id": "u1", "email": "u1@example.com", "amount": 499.5, "currency": "INR", "order_id": "o-9",
	})
	d.Emit(context.Background(), SubscriptionUpgraded, Payload{"email": "u1@example.com", "plan_name": "<Pro>"})

	emails := q.ofType(handlers.TypeSendEmail)
	require.Len(t, emails, 3)

	var booking, receipt, upgrade handlers.EmailPayload
	require.NoError(t, json.Unmarshal(emails[0].payload, &booking))
	require.NoError(t, json.Unmarshal(emails[1].payload, &receipt))
	require.NoError(t, json.Unmarshal(emails[2].payload, &upgrade))

	assert.Equal(t, "Booking Confirmation", booking.Subject)
	assert.Contains(t, booking.HTML, "Time: 10:30")
	assert.Equal(t, "Payment Receipt", receipt.Subject)
	assert.Contains(t, receipt.HTML, "Amount: 499.5 INR")
	assert.Contains(t, upgrade.HTML, "&lt;Pro&gt;")

	assert.Len(t, q.ofType(handlers.TypeDeliverWebhook), 2)
}

func TestEmailListenerSkipsMissingAddress(t *testing.T) {
	d, q, _, _ := setup(t)
	d.Emit(context.Background(), BookingCancelled, Payload{"booking_id": "b1"})
	assert.Empty(t, q.jobs)
}

func TestProfileUpdatedClearsCache(t *testing.T) {
	d, _, _, c := setup(t)
	d.Emit(context.Background(), ProfileUpdated, Payload{"profile_id": "p7"})
	assert.Equal(t, []string{"profile:p7:*"}, c.patterns)
}

func TestProfileViewedTracksAnalytics(t *testing.T) {
	d, _, a, _ := setup(t)
	d.Emit(context.Background(), ProfileViewed, Payload{"profile_id": "p1", "ip": "10.0.0.1", "referrer": "nfc"})

	require.Len(t, a.events, 1)
	assert.Equal(t, "profile_view", a.events[0].event)
	assert.Equal(t, "nfc", a.events[0].props["referrer"])
}

func TestDefaultListenerCoverage(t *testing.T) {
	d, _, _, _ := setup(t)
	for _, name := range []string{
		UserRegistered, UserLogin, UserPasswordReset,
		ProfileCreated, ProfileUpdated, ProfileViewed,
		LeadCreated, LeadUpdated,
		BookingCreated, BookingConfirmed, BookingCancelled,
		PaymentSuccess, PaymentFailed,
		SubscriptionUpgraded, SubscriptionCancelled,
		AnalyticsTrack, WebhookTrigger, CacheClear,
	} {
		assert.Positive(t, d.Subscribers(name), name)
	}
}

func TestOptionalSinks(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	RegisterListeners(d, ListenerDeps{Queue: &fakeQueue{}, Logger: zap.NewNop()})

	assert.Zero(t, d.Subscribers(AnalyticsTrack))
	assert.Zero(t, d.Subscribers(CacheClear))
	assert.NotPanics(t, func() {
		d.Emit(context.Background(), ProfileUpdated, Payload{"profile_id": "p1"})
	})
}
