package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.JobEnqueued("send_email")
		m.JobAttempt("send_email", time.Second)
		m.JobCompleted("send_email")
		m.JobRetried("send_email")
		m.JobFailed("send_email", "handler")
		m.SetQueueSize(3)
		m.SetWorkers(3, 1)
		m.TaskRun("cleanup-logs", "success", time.Second)
		m.EventEmitted("lead.created")
		m.SubscriberFailed("lead.created")
		m.EventDropped("lead.created")
		m.DeadLettered()
		m.APIRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), zap.NewNop())

	m.JobEnqueued("send_email")
	m.JobEnqueued("send_email")
	m.JobFailed("generate_report", "timeout")
	m.TaskRun("daily-reports", "error", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("send_email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFailed.WithLabelValues("generate_report", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRuns.WithLabelValues("daily-reports", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "jobcore_jobs_enqueued_total"))
}
