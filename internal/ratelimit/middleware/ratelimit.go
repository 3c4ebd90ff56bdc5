package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"agegate/internal/ratelimit/models"
	"agegate/pkg/platform/httputil"
	"agegate/pkg/requestcontext"
)

type RateLimiter interface {
	Check(ctx context.Context, key string, now time.Time) models.RateLimitResult
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits requests per caller for endpoint. The caller is the
// authenticated actor when present, otherwise the client IP.
func (m *Middleware) RateLimit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			caller := CallerKey(ctx)
			if caller == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := m.limiter.Check(ctx, models.NewKey(caller, endpoint), requestcontext.Now(ctx))
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CallerKey identifies the caller for limiting: "actor:<subject>" or "ip:<addr>".
func CallerKey(ctx context.Context) string {
	if actor, ok := requestcontext.ActorFrom(ctx); ok && actor.Subject != "" {
		return "actor:" + actor.Subject
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		return "ip:" + ip
	}
	return ""
}

func addRateLimitHeaders(w http.ResponseWriter, result models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
