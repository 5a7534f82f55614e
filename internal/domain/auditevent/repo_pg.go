package auditevent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/hl7-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, user_id, action, resource_type, resource_id, metadata, severity, status)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8)`,
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, string(metadata), e.Severity, e.Status)
	return err
}

func (r *repoPG) List(ctx context.Context, resourceType, resourceID string, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_event WHERE resource_type = $1 AND resource_id = $2`,
		resourceType, resourceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, metadata, severity, status, recorded
		FROM audit_event WHERE resource_type = $1 AND resource_id = $2
		ORDER BY recorded DESC LIMIT $3 OFFSET $4`,
		resourceType, resourceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		var e Event
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID,
			&metadata, &e.Severity, &e.Status, &e.Recorded); err != nil {
			return nil, 0, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		items = append(items, &e)
	}
	return items, total, nil
}
