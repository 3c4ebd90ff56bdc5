// Package worker relays audit events from the Postgres outbox to Kafka.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agegate/pkg/platform/audit/store/postgres"
	txcontext "agegate/pkg/platform/tx"
)

// Outbox is the subset of the Postgres audit store the relay needs.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Sink receives encoded events.
type Sink interface {
	PublishSync(ctx context.Context, key string, payload []byte) error
}

// TxRunner opens the transaction that scopes one batch.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Worker polls the outbox and forwards entries in order. An entry is marked
// published only after the sink acknowledged it; a sink failure leaves the
// rest of the batch pending for the next tick.
type Worker struct {
	outbox    Outbox
	sink      Sink
	runTx     TxRunner
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(outbox Outbox, sink Sink, runTx TxRunner, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		sink:      sink,
		runTx:     runTx,
		logger:    slog.Default(),
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil {
				w.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce forwards one batch and returns how many entries were published.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	var sinkErr error
	err := w.runTx(ctx, func(ctx context.Context) error {
		entries, err := w.outbox.FetchPending(ctx, w.batchSize)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			if sinkErr = w.sink.PublishSync(ctx, e.AggregateID, e.Payload); sinkErr != nil {
				break
			}
			ids = append(ids, e.ID)
		}
		if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, sinkErr
}

// PostgresTx adapts txcontext.Run to a TxRunner.
func PostgresTx(store *postgres.Store) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return txcontext.Run(ctx, store.DB(), fn)
	}
}
