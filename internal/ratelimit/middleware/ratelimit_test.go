package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkart/internal/ratelimit/metrics"
	"webkart/internal/ratelimit/models"
	"webkart/internal/ratelimit/store/bucket"
	"webkart/pkg/platform/httputil"
	"webkart/pkg/platform/middleware/metadata"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (models.Result, error) {
	return models.Result{}, errors.New("redis unavailable")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOTPRouter mounts a stub OTP route paced per session and per client IP.
func newOTPRouter(m *Middleware, perSession, perIP int) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Route("/verifications/{id}", func(r chi.Router) {
		r.With(m.Limit(
			Rule{Name: "otp_session", Limit: perSession, Window: time.Hour, Key: ByURLParam("id")},
			Rule{Name: "otp_ip", Limit: perIP, Window: time.Hour, Key: ByClientIP},
		)).Post("/otp", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	return r
}

func issue(router http.Handler, sessionID, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verifications/"+sessionID+"/otp", nil)
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLimit_PerSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(bucket.NewInMemoryBucketStore(), quietLogger(), WithMetrics(metrics.New(reg)))
	router := newOTPRouter(m, 2, 100)

	for i := range 2 {
		rec := issue(router, "session-a", "203.0.113.7")
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"1", "0"}[i], rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := issue(router, "session-a", "198.51.100.4")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error)

	assert.Equal(t, http.StatusAccepted, issue(router, "session-b", "203.0.113.7").Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Decisions.WithLabelValues("otp_session", "denied")))
}

func TestLimit_PerClientIP(t *testing.T) {
	m := New(bucket.NewInMemoryBucketStore(), quietLogger())
	router := newOTPRouter(m, 100, 3)

	for _, sessionID := range []string{"s-1", "s-2", "s-3"} {
		require.Equal(t, http.StatusAccepted, issue(router, sessionID, "203.0.113.7").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, issue(router, "s-4", "203.0.113.7").Code)
	assert.Equal(t, http.StatusAccepted, issue(router, "s-4", "203.0.113.8").Code)
}

func TestLimit_PassThrough(t *testing.T) {
	t.Run("store errors let requests through", func(t *testing.T) {
		router := newOTPRouter(New(failingStore{}, quietLogger()), 1, 1)
		for range 3 {
			assert.Equal(t, http.StatusAccepted, issue(router, "session-a", "203.0.113.7").Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		router := newOTPRouter(New(bucket.NewInMemoryBucketStore(), quietLogger(), WithDisabled(true)), 1, 1)
		for range 3 {
			rec := issue(router, "session-a", "203.0.113.7")
			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("zero limit disables a rule", func(t *testing.T) {
		router := newOTPRouter(New(bucket.NewInMemoryBucketStore(), quietLogger()), 0, 0)
		for range 3 {
			assert.Equal(t, http.StatusAccepted, issue(router, "session-a", "203.0.113.7").Code)
		}
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 30, retryAfterSeconds(30*time.Second))
	assert.Equal(t, 31, retryAfterSeconds(30*time.Second+time.Millisecond))
}
