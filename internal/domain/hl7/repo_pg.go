package hl7

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hl7-engine/internal/platform/db"
	"github.com/ehr/hl7-engine/internal/platform/hl7v2"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type queueRepoPG struct{ pool *pgxpool.Pool }

// NewQueueRepoPG returns the Postgres-backed queue store.
func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository { return &queueRepoPG{pool: pool} }

func (r *queueRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const queueCols = `id, raw_message, parsed_data, message_type, control_id,
	sending_application, sending_facility, status, attempts, last_error,
	resource_id, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	var parsed []byte
	err := row.Scan(&e.ID, &e.RawMessage, &parsed, &e.MessageType, &e.ControlID,
		&e.SendingApplication, &e.SendingFacility, &e.Status, &e.Attempts, &e.LastError,
		&e.ResourceID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(parsed) > 0 {
		var msg hl7v2.Message
		if err := json.Unmarshal(parsed, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal parsed message: %w", err)
		}
		e.ParsedData = &msg
	}
	return &e, nil
}

func (r *queueRepoPG) Enqueue(ctx context.Context, e *QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	var parsed *string
	if e.ParsedData != nil {
		b, err := json.Marshal(e.ParsedData)
		if err != nil {
			return fmt.Errorf("marshal parsed message: %w", err)
		}
		s := string(b)
		parsed = &s
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hl7_message (id, raw_message, parsed_data, message_type, control_id,
			sending_application, sending_facility, status, attempts, created_at, updated_at)
		VALUES ($1,$2,$3::jsonb,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.RawMessage, parsed, e.MessageType, e.ControlID,
		e.SendingApplication, e.SendingFacility, e.Status, e.Attempts, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+queueCols+` FROM hl7_message WHERE id = $1`, id)
	return scanQueueEntry(row)
}

func (r *queueRepoPG) List(ctx context.Context, filter ListFilter) ([]*QueueEntry, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 0
	if filter.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
	}
	if filter.MessageType != "" {
		n++
		where += fmt.Sprintf(" AND message_type = $%d", n)
		args = append(args, filter.MessageType)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM hl7_message`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + queueCols + ` FROM hl7_message` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, filter.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *queueRepoPG) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_message
		SET status = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		StatusProcessing, id, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepoPG) MarkProcessed(ctx context.Context, id uuid.UUID, resourceID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_message
		SET status = $1, resource_id = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3`,
		StatusProcessed, resourceID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepoPG) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_message
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3`,
		StatusFailed, errText, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepoPG) Retry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_message
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		StatusPending, id, StatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotRetryable
	}
	return nil
}

func (r *queueRepoPG) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM hl7_message GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &QueueStats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusProcessed:
			stats.Processed = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}
