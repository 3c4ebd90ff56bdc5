package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "agegate/pkg/platform/audit"
	txcontext "agegate/pkg/platform/tx"
)

// Schema creates the outbox table. Events are written here and forwarded to
// Kafka by the outbox relay.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_outbox (
	id           UUID PRIMARY KEY,
	aggregate_id TEXT        NOT NULL,
	event_type   TEXT        NOT NULL,
	payload      JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS audit_outbox_pending_idx
	ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// Store implements audit.Store using the transactional outbox pattern.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema applies Schema. Safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply audit outbox schema: %w", err)
	}
	return nil
}

// Entry is a pending outbox row.
type Entry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// Append writes an audit event to the outbox. It joins the transaction in ctx
// when there is one.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	entryID := uuid.New()
	if event.ID == "" {
		event.ID = entryID.String()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateID := event.ID
	if !event.SubjectID.IsNil() {
		aggregateID = event.SubjectID.String()
	}

	const query = `
		INSERT INTO audit_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		entryID,
		aggregateID,
		event.Action,
		payload,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending locks up to limit unpublished entries, oldest first. Call it
// inside a transaction so concurrent relays skip each other's rows.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps the given entries as forwarded.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	const query = `UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, at, pq.Array(raw)); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

// DB exposes the handle so the relay can open transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}
