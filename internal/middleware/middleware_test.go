package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/v1/queue/status", func(c *gin.Context) { c.String(http.StatusOK, "status") })
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path string, header map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter(APIKeyMiddleware([]string{"secret"}))

	assert.Equal(t, http.StatusOK, do(r, "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/api/v1/queue/status", nil))
	assert.Equal(t, http.StatusForbidden, do(r, "/api/v1/queue/status", map[string]string{"X-API-Key": "wrong"}))
	assert.Equal(t, http.StatusOK, do(r, "/api/v1/queue/status", map[string]string{"X-API-Key": "secret"}))

	open := newRouter(APIKeyMiddleware(nil))
	assert.Equal(t, http.StatusOK, do(open, "/api/v1/queue/status", nil))
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimitMiddleware(0.001, 2))

	assert.Equal(t, http.StatusOK, do(r, "/health", nil))
	assert.Equal(t, http.StatusOK, do(r, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, do(r, "/health", nil))
}

func TestRecoveryAndMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry(), zap.NewNop())
	r := newRouter(MetricsMiddleware(m), RecoveryMiddleware(zap.NewNop()), LoggingMiddleware(zap.NewNop()))

	assert.Equal(t, http.StatusInternalServerError, do(r, "/panic", nil))
	assert.Equal(t, http.StatusOK, do(r, "/api/v1/queue/status", nil))
	assert.Equal(t, http.StatusNotFound, do(r, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestCount.WithLabelValues("GET", "/panic", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestCount.WithLabelValues("GET", "/api/v1/queue/status", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestCount.WithLabelValues("GET", "unmatched", "404")))
}
