package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/job"
	"github.com/taponn/jobcore/internal/mailer"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeStore struct {
	owners   map[string]store.Owner
	hooks    map[string][]store.Webhook
	summary  store.ReportSummary
	since    time.Time
	day      time.Time
	cutoffs  []time.Time
	failWith error
}

func (s *fakeStore) ProfileOwner(_ context.Context, profileID string) (store.Owner, error) {
	if o, ok := s.owners[profileID]; ok {
		return o, nil
	}
	return store.Owner{}, store.ErrNotFound
}

func (s *fakeStore) ActiveWebhooks(_ context.Context, userID, event string) ([]store.Webhook, error) {
	return s.hooks[userID+"/"+event], s.failWith
}

func (s *fakeStore) AggregateDailyAnalytics(_ context.Context, day time.Time) (int64, error) {
	s.day = day
	return 1, s.failWith
}

func (s *fakeStore) DeleteAuditLogsBefore(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 3, s.failWith
}

func (s *fakeStore) DeleteAnalyticsEventsBefore(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 4, s.failWith
}

func (s *fakeStore) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, now)
	return 2, s.failWith
}

func (s *fakeStore) ReportSummary(_ context.Context, _ string, since time.Time) (store.ReportSummary, error) {
	s.since = since
	return s.summary, s.failWith
}

func newJob(t *testing.T, jobType string, payload any) *types.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return types.NewJob(jobType, data, types.DefaultOptions(0, time.Second))
}

func TestEmailJobHandler(t *testing.T) {
	m := &fakeMailer{}
	h := NewEmailJobHandler(m, zap.NewNop())

	err := h.Handle(context.Background(), newJob(t, TypeSendEmail, EmailPayload{
		To: "a@example.com", Subject: "Booking Confirmed", HTML: "<p>ok</p>",
	}))
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Booking Confirmed", m.sent[0].Subject)

	err = h.Handle(context.Background(), newJob(t, TypeSendEmail, EmailPayload{Subject: "x"}))
	assert.True(t, job.IsPermanent(err))

	j := types.NewJob(TypeSendEmail, []byte(`[1,2]`), types.DefaultOptions(0, time.Second))
	assert.True(t, job.IsPermanent(h.Handle(context.Background(), j)))

	m.err = errors.New("smtp down")
	err = h.Handle(context.Background(), newJob(t, TypeSendEmail, EmailPayload{To: "a@example.com", Subject: "s"}))
	require.Error(t, err)
	assert.False(t, job.IsPermanent(err), "transport failures are retried")
}

func TestWelcomeEmailEscapesName(t *testing.T) {
	m := &fakeMailer{}
	h := NewWelcomeEmailHandler(m)

	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeSendWelcomeEmail,
		WelcomeEmailPayload{Email: "new@example.com", Name: "<b>Ana</b>"})))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Welcome to TapOnn!", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].HTML, "&lt;b&gt;Ana&lt;/b&gt;")
}

func TestLeadNotificationLooksUpOwner(t *testing.T) {
	m := &fakeMailer{}
	s := &fakeStore{owners: map[string]store.Owner{"p1": {UserID: "u1", Email: "owner@example.com"}}}
	h := NewLeadNotificationHandler(m, s)

	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeSendLeadNotification,
		LeadNotificationPayload{ProfileID: "p1", LeadName: "Sam", LeadEmail: "sam@example.com"})))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "owner@example.com", m.sent[0].To)
	assert.Contains(t, m.sent[0].HTML, "sam@example.com")
	assert.Contains(t, m.sent[0].HTML, "<strong>Phone:</strong> N/A")

	err := h.Handle(context.Background(), newJob(t, TypeSendLeadNotification,
		LeadNotificationPayload{ProfileID: "gone", LeadName: "Sam"}))
	assert.True(t, job.IsPermanent(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyticsHandler(t *testing.T) {
	s := &fakeStore{}
	h := NewAnalyticsHandler(s, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeAggregateAnalytics, AnalyticsPayload{Date: "2026-10-18"})))
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), s.day)

	err := h.Handle(context.Background(), newJob(t, TypeAggregateAnalytics, AnalyticsPayload{Date: "yesterday"}))
	assert.True(t, job.IsPermanent(err))
}

func TestCleanupHandlerTargets(t *testing.T) {
	now := time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC)
	s := &fakeStore{}
	h := NewCleanupHandler(s, zap.NewNop())
	h.now = func() time.Time { return now }

	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeCleanupData, CleanupPayload{Target: CleanupLogs})))
	require.Len(t, s.cutoffs, 2)
	assert.Equal(t, now.AddDate(0, 0, -30), s.cutoffs[0])

	s.cutoffs = nil
	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeCleanupData, CleanupPayload{Target: CleanupLogs, RetentionDays: 7})))
	assert.Equal(t, now.AddDate(0, 0, -7), s.cutoffs[0])

	s.cutoffs = nil
	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeCleanupData, CleanupPayload{Target: CleanupTokens})))
	assert.Equal(t, []time.Time{now}, s.cutoffs)

	err := h.Handle(context.Background(), newJob(t, TypeCleanupData, CleanupPayload{Target: "everything"}))
	assert.True(t, job.IsPermanent(err))

	s.failWith = errors.New("connection reset")
	err = h.Handle(context.Background(), newJob(t, TypeCleanupData, CleanupPayload{Target: CleanupTokens}))
	require.Error(t, err)
	assert.False(t, job.IsPermanent(err))
}

func TestReportHandler(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	m := &fakeMailer{}
	s := &fakeStore{summary: store.ReportSummary{Views: 12, Leads: 3, Bookings: 1}}
	h := NewReportHandler(s, m, zap.NewNop())
	h.now = func() time.Time { return now }

	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeGenerateReport,
		ReportPayload{UserID: "u1", Email: "u1@example.com"})))
	assert.Equal(t, now.Add(-24*time.Hour), s.since)
	require.Len(t, m.sent, 1)
	assert.Equal(t, "Your TapOnn daily report", m.sent[0].Subject)
	assert.Contains(t, m.sent[0].HTML, "<strong>Profile views:</strong> 12")

	err := h.Handle(context.Background(), newJob(t, TypeGenerateReport,
		ReportPayload{UserID: "u1", Email: "u1@example.com", ReportType: "hourly"}))
	assert.True(t, job.IsPermanent(err))
}

func TestWebhookHandlerDelivers(t *testing.T) {
	type received struct {
		header http.Header
		body   webhookBody
	}
	got := make(chan received, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b webhookBody
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &b)
		got <- received{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := &fakeStore{
		owners: map[string]store.Owner{"p1": {UserID: "u1"}},
		hooks:  map[string][]store.Webhook{"u1/lead.created": {{ID: "w1", URL: srv.URL, Secret: "s3cret"}}},
	}
	h := NewWebhookHandler(s, time.Second, zap.NewNop())
	h.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	err := h.Handle(context.Background(), newJob(t, TypeDeliverWebhook, WebhookPayload{
		ProfileID: "p1",
		Event:     "lead.created",
		Data:      json.RawMessage(`{"lead_id":"l1"}`),
	}))
	require.NoError(t, err)

	r := <-got
	assert.Equal(t, "s3cret", r.header.Get("X-Webhook-Secret"))
	assert.Equal(t, "lead.created", r.header.Get("X-Webhook-Event"))
	assert.Equal(t, "lead.created", r.body.Event)
	assert.Equal(t, "2026-10-19T12:00:00Z", r.body.Timestamp)
	assert.JSONEq(t, `{"lead_id":"l1"}`, string(r.body.Data))
}

func TestWebhookHandlerFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := &fakeStore{hooks: map[string][]store.Webhook{"u1/payment.success": {{ID: "w1", URL: srv.URL}}}}
	h := NewWebhookHandler(s, time.Second, zap.NewNop())

	err := h.Handle(context.Background(), newJob(t, TypeDeliverWebhook, WebhookPayload{UserID: "u1", Event: "payment.success"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.False(t, job.IsPermanent(err))

	// no registered endpoints is not an error
	require.NoError(t, h.Handle(context.Background(), newJob(t, TypeDeliverWebhook, WebhookPayload{UserID: "u2", Event: "payment.success"})))

	err = h.Handle(context.Background(), newJob(t, TypeDeliverWebhook, WebhookPayload{Event: "payment.success"}))
	assert.True(t, job.IsPermanent(err))
}

func TestRegister(t *testing.T) {
	r := job.NewRegistry(zap.NewNop())
	require.NoError(t, Register(r, Deps{Mailer: &fakeMailer{}, Logger: zap.NewNop()}))
	assert.Equal(t, []string{TypeSendEmail, TypeSendWelcomeEmail}, r.Types())

	r = job.NewRegistry(zap.NewNop())
	require.NoError(t, Register(r, Deps{Mailer: &fakeMailer{}, Store: &fakeStore{}, Logger: zap.NewNop()}))
	assert.Equal(t, []string{
		TypeAggregateAnalytics,
		TypeCleanupData,
		TypeDeliverWebhook,
		TypeGenerateReport,
		TypeSendEmail,
		TypeSendLeadNotification,
		TypeSendWelcomeEmail,
	}, r.Types())

	assert.Error(t, Register(r, Deps{Mailer: &fakeMailer{}, Logger: zap.NewNop()}), "duplicate registration")
}
