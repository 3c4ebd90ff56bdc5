// Package publisher fronts an audit.Store with timestamping, request
// correlation and an optional asynchronous buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"agegate/pkg/domain"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/requestcontext"
)

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]audit.Event, error)
}

// Publisher emits audit events to a store. In async mode Emit only enqueues
// and a single goroutine appends in order; Close drains the queue.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	queue     chan audit.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given queue size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

// Emit fills in ID, timestamp, category and request ID when missing, then
// stores or enqueues the event. A full async queue fails fast rather than
// blocking the caller.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if p.queue == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return errors.New("audit queue full")
	}
}

// List reads back a subject's events when the store supports it.
func (p *Publisher) List(ctx context.Context, subjectID domain.SubjectID) ([]audit.Event, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListBySubject(ctx, subjectID)
}

// Close stops accepting events and waits for queued ones to be stored.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.queue == nil {
			return
		}
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			p.logger.Error("failed to append audit event",
				"action", event.Action,
				"event_id", event.ID,
				"error", err,
			)
		}
		cancel()
	}
}
