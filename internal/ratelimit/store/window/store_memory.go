package window

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"agegate/internal/ratelimit/models"
)

// DefaultHighWater is the tracked-key count above which stale windows are purged.
const DefaultHighWater = 1000

type counter struct {
	start time.Time
	count atomic.Int64
}

// InMemoryWindowStore keeps fixed windows in a sync.Map. Increments are
// atomic on the counter; a window reset swaps in a fresh counter with
// CompareAndSwap so concurrent callers never lose or double-count a request.
type InMemoryWindowStore struct {
	windows   sync.Map // string -> *counter
	tracked   atomic.Int64
	highWater int64
}

type Option func(*InMemoryWindowStore)

// WithHighWater sets the purge threshold.
func WithHighWater(n int) Option {
	return func(s *InMemoryWindowStore) {
		if n > 0 {
			s.highWater = int64(n)
		}
	}
}

func NewInMemoryWindowStore(opts ...Option) *InMemoryWindowStore {
	s := &InMemoryWindowStore{highWater: DefaultHighWater}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCounter(now time.Time) *counter {
	c := &counter{start: now}
	c.count.Store(1)
	return c
}

func (s *InMemoryWindowStore) Increment(_ context.Context, key string, now time.Time, size time.Duration) (models.Window, error) {
	fresh := newCounter(now)
	for {
		v, loaded := s.windows.LoadOrStore(key, fresh)
		if !loaded {
			s.tracked.Add(1)
			s.purge(now, size)
			return models.Window{Count: 1, Start: now}, nil
		}
		c := v.(*counter)
		if now.Sub(c.start) > size {
			if s.windows.CompareAndSwap(key, c, fresh) {
				s.purge(now, size)
				return models.Window{Count: 1, Start: now}, nil
			}
			// Another caller replaced or removed the window; retry against it.
			continue
		}
		return models.Window{Count: int(c.count.Add(1)), Start: c.start}, nil
	}
}

func (s *InMemoryWindowStore) Reset(_ context.Context, key string) error {
	if _, loaded := s.windows.LoadAndDelete(key); loaded {
		s.tracked.Add(-1)
	}
	return nil
}

// Len returns the number of tracked keys.
func (s *InMemoryWindowStore) Len() int {
	return int(s.tracked.Load())
}

// purge drops windows older than twice the window size, only once the
// tracked-key count exceeds the high-water mark.
func (s *InMemoryWindowStore) purge(now time.Time, size time.Duration) {
	if s.tracked.Load() <= s.highWater {
		return
	}
	s.windows.Range(func(k, v any) bool {
		if now.Sub(v.(*counter).start) > 2*size {
			if s.windows.CompareAndDelete(k, v) {
				s.tracked.Add(-1)
			}
		}
		return true
	})
}
