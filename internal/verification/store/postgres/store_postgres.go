// Package postgres persists verification subjects in PostgreSQL with an
// optimistic version column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"agegate/internal/verification/models"
	"agegate/pkg/domain"
	"agegate/pkg/platform/sentinel"
	txcontext "agegate/pkg/platform/tx"
)

const Schema = `
CREATE TABLE IF NOT EXISTS verification_subjects (
	subject_id      UUID PRIMARY KEY,
	status          TEXT        NOT NULL,
	token_hash      TEXT        NOT NULL DEFAULT '',
	birthdate       DATE,
	age             INTEGER,
	failure_reason  TEXT        NOT NULL DEFAULT '',
	verified_at     TIMESTAMPTZ,
	front_photo_key TEXT        NOT NULL DEFAULT '',
	back_photo_key  TEXT        NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	version         BIGINT      NOT NULL
);
`

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore persists subjects in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies Schema. Safe to call on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply verification schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.SubjectID) (*models.Subject, error) {
	const query = `
		SELECT subject_id, status, token_hash, birthdate, age, failure_reason, verified_at,
		       front_photo_key, back_photo_key, created_at, updated_at, version
		FROM verification_subjects
		WHERE subject_id = $1
	`
	var (
		rawID      uuid.UUID
		status     string
		birthdate  sql.NullTime
		age        sql.NullInt64
		verifiedAt sql.NullTime
		subject    models.Subject
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(id)).Scan(
		&rawID,
		&status,
		&subject.TokenHash,
		&birthdate,
		&age,
		&subject.FailureReason,
		&verifiedAt,
		&subject.FrontPhotoKey,
		&subject.BackPhotoKey,
		&subject.CreatedAt,
		&subject.UpdatedAt,
		&subject.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find subject by id: %w", err)
	}

	subject.ID = domain.SubjectID(rawID)
	subject.Status = models.Status(status)
	if !subject.Status.IsValid() {
		return nil, fmt.Errorf("stored subject %s has unknown status %q", rawID, status)
	}
	if birthdate.Valid {
		b := birthdate.Time.UTC()
		subject.Birthdate = &b
	}
	if age.Valid {
		a := int(age.Int64)
		subject.Age = &a
	}
	if verifiedAt.Valid {
		v := verifiedAt.Time
		subject.VerifiedAt = &v
	}
	return &subject, nil
}

// Save inserts a version 0 subject or updates the row whose version equals
// subject.Version. Either way the stored version becomes subject.Version+1.
func (s *PostgresStore) Save(ctx context.Context, subject *models.Subject) error {
	next := subject.Version + 1
	args := []any{
		uuid.UUID(subject.ID),
		string(subject.Status),
		subject.TokenHash,
		nullTime(subject.Birthdate),
		nullInt(subject.Age),
		subject.FailureReason,
		nullTime(subject.VerifiedAt),
		subject.FrontPhotoKey,
		subject.BackPhotoKey,
		subject.CreatedAt,
		subject.UpdatedAt,
		next,
	}
	exec := txcontext.Exec(ctx, s.db)

	if subject.Version == 0 {
		const insert = `
			INSERT INTO verification_subjects (
				subject_id, status, token_hash, birthdate, age, failure_reason, verified_at,
				front_photo_key, back_photo_key, created_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`
		if _, err := exec.ExecContext(ctx, insert, args...); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert subject: %w", err)
		}
		subject.Version = next
		return nil
	}

	const update = `
		UPDATE verification_subjects SET
			status = $2, token_hash = $3, birthdate = $4, age = $5, failure_reason = $6,
			verified_at = $7, front_photo_key = $8, back_photo_key = $9, created_at = $10,
			updated_at = $11, version = $12
		WHERE subject_id = $1 AND version = $13
	`
	res, err := exec.ExecContext(ctx, update, append(args, subject.Version)...)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subject rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	subject.Version = next
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
