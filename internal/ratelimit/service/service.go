// Package service implements the fixed-window request limiter in front of
// ID submissions.
//
// Keys are "<caller>:<endpoint>". A window opens on the first request, and
// requests are admitted while the window's count stays at or below the cap.
// Once more than the window size has elapsed since the window opened the
// next request starts a fresh window. Bursts of up to twice the cap across a
// boundary are accepted.
//
// The limiter fails open: an empty key or a store error admits the request.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agegate/internal/ratelimit/metrics"
	"agegate/internal/ratelimit/models"
	"agegate/internal/ratelimit/ports"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/auditlog"
	"agegate/pkg/requestcontext"
)

const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second
)

// sizer is implemented by stores that can report how many keys they track.
type sizer interface {
	Len() int
}

type Limiter struct {
	store   ports.WindowStore
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor auditlog.Emitter
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func WithAuditPublisher(e auditlog.Emitter) Option {
	return func(l *Limiter) {
		l.auditor = e
	}
}

// WithLimit overrides the cap and window size. Non-positive values keep the defaults.
func WithLimit(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.limit = limit
		}
		if window > 0 {
			l.window = window
		}
	}
}

func New(store ports.WindowStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	l := &Limiter{
		store:  store,
		limit:  DefaultLimit,
		window: DefaultWindow,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) Limit() int { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records one request for key at now and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, key string, now time.Time) bool {
	return l.Check(ctx, key, now).Allowed
}

// AllowRequest is Allow keyed by caller and endpoint, timed by the request clock.
func (l *Limiter) AllowRequest(ctx context.Context, caller, endpoint string) bool {
	if strings.TrimSpace(caller) == "" {
		return true
	}
	return l.Allow(ctx, models.NewKey(caller, endpoint), requestcontext.Now(ctx))
}

// Check is Allow with the full window state for response headers.
func (l *Limiter) Check(ctx context.Context, key string, now time.Time) models.RateLimitResult {
	open := models.RateLimitResult{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit,
		ResetAt:   now.Add(l.window),
	}
	if key == "" {
		return open
	}

	started := time.Now()
	w, err := l.store.Increment(ctx, key, now, l.window)
	l.metrics.ObserveCheckDuration(time.Since(started).Seconds())
	if err != nil {
		l.metrics.IncrementStoreErrors()
		l.logger.WarnContext(ctx, "rate limit store unavailable; admitting request",
			"key", key,
			"error", err,
		)
		return open
	}
	if s, ok := l.store.(sizer); ok {
		l.metrics.SetTrackedKeys(s.Len())
	}

	result := models.RateLimitResult{
		Allowed:   w.Count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-w.Count, 0),
		ResetAt:   w.Start.Add(l.window),
	}
	endpoint := endpointOf(key)
	l.metrics.RecordDecision(endpoint, result.Allowed)

	if !result.Allowed {
		result.RetryAfter = max(int(result.ResetAt.Sub(now).Seconds()), 1)
		auditlog.Log(ctx, l.logger, l.auditor, audit.EventRateLimitExceeded,
			"endpoint", endpoint,
			"reason", "rate limit exceeded",
			"limit", l.limit,
			"window_seconds", int(l.window.Seconds()),
		)
	}
	return result
}

// Reset clears the window for caller and endpoint.
func (l *Limiter) Reset(ctx context.Context, caller, endpoint string) error {
	return l.store.Reset(ctx, models.NewKey(caller, endpoint))
}

func endpointOf(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
