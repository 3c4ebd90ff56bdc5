// Package ports defines the storage interface behind the rate limiter.
package ports

import (
	"context"
	"time"

	"agegate/internal/ratelimit/models"
)

// WindowStore counts requests per key in fixed windows.
type WindowStore interface {
	// Increment records one request for key at now. The window restarts at
	// now when more than size has elapsed since its start. It returns the
	// count including this request and the window start.
	Increment(ctx context.Context, key string, now time.Time, size time.Duration) (models.Window, error)

	// Reset forgets the window for key.
	Reset(ctx context.Context, key string) error
}
