// Package middleware paces HTTP routes with per-key sliding-window limits.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"webkart/internal/ratelimit/metrics"
	"webkart/internal/ratelimit/models"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/httputil"
	"webkart/pkg/requestcontext"
)

// BucketStore counts requests per key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (models.Result, error)
}

// KeyFunc extracts the counter key from a request. An empty key skips the
// rule for that request.
type KeyFunc func(r *http.Request) string

// ByClientIP keys on the client address set by the metadata middleware.
func ByClientIP(r *http.Request) string {
	return requestcontext.ClientIP(r.Context())
}

// ByURLParam keys on a chi route parameter.
func ByURLParam(name string) KeyFunc {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// Rule is one limit. Rules with a non-positive Limit are ignored.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	Key    KeyFunc
}

type Middleware struct {
	store    BucketStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every Limit into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit counts the request against every rule in order and rejects it with
// 429 at the first exhausted one. A store error lets the request through.
func (m *Middleware) Limit(rules ...Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			var tightest *models.Result
			for _, rule := range rules {
				if rule.Limit <= 0 || rule.Key == nil {
					continue
				}
				key := rule.Key(r)
				if key == "" {
					continue
				}
				result, err := m.store.Allow(ctx, rule.Name+":"+key, rule.Limit, rule.Window)
				if err != nil {
					m.metrics.IncDecision(rule.Name, "error")
					m.logger.ErrorContext(ctx, "rate limit check failed",
						"rule", rule.Name,
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
					continue
				}
				if !result.Allowed {
					m.metrics.IncDecision(rule.Name, "denied")
					m.logger.WarnContext(ctx, "rate limit exceeded",
						"rule", rule.Name,
						"request_id", requestcontext.RequestID(ctx),
					)
					writeLimited(w, result)
					return
				}
				m.metrics.IncDecision(rule.Name, "allowed")
				if tightest == nil || result.Remaining < tightest.Remaining {
					tightest = &result
				}
			}
			if tightest != nil {
				addHeaders(w, *tightest)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeLimited(w http.ResponseWriter, result models.Result) {
	addHeaders(w, result)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
	httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
