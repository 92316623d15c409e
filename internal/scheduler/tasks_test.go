package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/internal/store"
	"github.com/taponn/jobcore/pkg/types"
)

type addedJob struct {
	jobType string
	payload json.RawMessage
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []addedJob
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
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, addedJob{jobType: jobType, payload: data})
	return "job_test", nil
}

type fakeMaintenanceStore struct {
	subs       []store.Subscription
	recipients []store.Recipient
	renewalCut time.Time
	archiveCut []time.Time
	err        error
}

func (s *fakeMaintenanceStore) SubscriptionsDueForRenewal(_ context.Context, before time.Time) ([]store.Subscription, error) {
	s.renewalCut = before
	return s.subs, s.err
}

func (s *fakeMaintenanceStore) DailyReportRecipients(context.Context) ([]store.Recipient, error) {
	return s.recipients, s.err
}

func (s *fakeMaintenanceStore) ArchiveLeadsBefore(_ context.Context, before time.Time) (int64, error) {
	s.archiveCut = append(s.archiveCut, before)
	return 5, s.err
}

func (s *fakeMaintenanceStore) ArchiveBookingsBefore(_ context.Context, before time.Time) (int64, error) {
	s.archiveCut = append(s.archiveCut, before)
	return 2, s.err
}

var fixedNow = time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)

func newMaintenance(s MaintenanceStore, q Enqueuer) *Maintenance {
	m := NewMaintenance(s, q, zap.NewNop())
	m.now = func() time.Time { return fixedNow }
	return m
}

func TestMaintenanceTaskNames(t *testing.T) {
	tasks := newMaintenance(nil, nil).Tasks(DefaultSchedules())

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
		assert.NotNil(t, task.Run)
	}
	assert.Equal(t, []string{
		"daily-analytics", "cleanup-logs", "subscription-renewals",
		"daily-reports", "cleanup-tokens", "archive-data",
	}, names)
}

func TestDailyAnalyticsQueuesYesterday(t *testing.T) {
	q := &fakeQueue{}
	require.NoError(t, newMaintenance(nil, q).DailyAnalytics(context.Background()))

	require.Len(t, q.jobs, 1)
	assert.Equal(t, handlers.TypeAggregateAnalytics, q.jobs[0].jobType)
	assert.JSONEq(t, `{"date":"2026-10-18"}`, string(q.jobs[0].payload))
}

func TestCleanupTasksQueueJobs(t *testing.T) {
	q := &fakeQueue{}
	m := newMaintenance(nil, q)

	require.NoError(t, m.CleanupLogs(context.Background()))
	require.NoError(t, m.CleanupTokens(context.Background()))

	require.Len(t, q.jobs, 2)
	assert.JSONEq(t, `{"target":"logs","retention_days":30}`, string(q.jobs[0].payload))
	assert.JSONEq(t, `{"target":"tokens"}`, string(q.jobs[1].payload))
}

func TestSubscriptionRenewalsQueueOneEmailEach(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeMaintenanceStore{subs: []store.Subscription{
		{ID: "s1", Email: "a@example.com", Name: "Ana"},
		{ID: "s2", Email: "b@example.com", Name: "Ben"},
	}}

	require.NoError(t, newMaintenance(s, q).SubscriptionRenewals(context.Background()))

	assert.Equal(t, fixedNow.Add(24*time.Hour), s.renewalCut)
	require.Len(t, q.jobs, 2)

	var email handlers.EmailPayload
	require.NoError(t, json.Unmarshal(q.jobs[1].payload, &email))
	assert.Equal(t, handlers.TypeSendEmail, q.jobs[1].jobType)
	assert.Equal(t, "b@example.com", email.To)
	assert.Equal(t, "Subscription Renewal Reminder", email.Subject)
	assert.Contains(t, email.HTML, "Hi Ben")
}

func TestDailyReportsQueueOneReportEach(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeMaintenanceStore{recipients: []store.Recipient{{UserID: "u1", Email: "u1@example.com"}}}

	require.NoError(t, newMaintenance(s, q).DailyReports(context.Background()))

	require.Len(t, q.jobs, 1)
	assert.Equal(t, handlers.TypeGenerateReport, q.jobs[0].jobType)
	assert.JSONEq(t, `{"user_id":"u1","report_type":"daily","email":"u1@example.com"}`, string(q.jobs[0].payload))
}

func TestArchiveDataRunsInline(t *testing.T) {
	s := &fakeMaintenanceStore{}
	require.NoError(t, newMaintenance(s, &fakeQueue{}).ArchiveData(context.Background()))

	cutoff := fixedNow.Add(-365 * 24 * time.Hour)
	assert.Equal(t, []time.Time{cutoff, cutoff}, s.archiveCut)
}

func TestMaintenanceErrorsPropagate(t *testing.T) {
	s := &fakeMaintenanceStore{err: errors.New("db down")}
	m := newMaintenance(s, &fakeQueue{})

	assert.EqualError(t, m.SubscriptionRenewals(context.Background()), "db down")
	assert.EqualError(t, m.ArchiveData(context.Background()), "db down")

	q := &fakeQueue{err: errors.New("queue closed")}
	s = &fakeMaintenanceStore{recipients: []store.Recipient{{UserID: "u1"}, {UserID: "u2"}}}
	err := newMaintenance(s, q).DailyReports(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user u1: queue closed")
	assert.Contains(t, err.Error(), "user u2: queue closed")
}
