package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
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

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *reportRepoPG) Create(ctx context.Context, rep *LabReport) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	content, err := json.Marshal(rep.Content)
	if err != nil {
		return fmt.Errorf("marshal report content: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_report (id, patient_id, title, source_control_id, content)
		VALUES ($1,$2,$3,$4,$5::jsonb)`,
		rep.ID, rep.PatientID, rep.Title, rep.SourceControlID, string(content))
	return err
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error) {
	var rep LabReport
	var content []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, title, source_control_id, content, created_at
		FROM lab_report WHERE id = $1`, id).
		Scan(&rep.ID, &rep.PatientID, &rep.Title, &rep.SourceControlID, &content, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(content) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(content, &parsed); err != nil {
			return nil, fmt.Errorf("unmarshal report content: %w", err)
		}
		rep.Content = parsed
	}
	return &rep, nil
}

// =========== Observation Repository ===========

type observationRepoPG struct{ pool *pgxpool.Pool }

func NewObservationRepoPG(pool *pgxpool.Pool) ObservationRepository {
	return &observationRepoPG{pool: pool}
}

func (r *observationRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const obsCols = `id, patient_id, report_id, code, display, value, value_type, units,
	reference_range, abnormal_flag, result_status, observation_time, created_at`

func (r *observationRepoPG) Create(ctx context.Context, o *Observation) (bool, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	// The partial unique index on (patient_id, code, observation_time, value)
	// makes replayed OBX segments a no-op rather than duplicate rows.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO observation (id, patient_id, report_id, code, display, value, value_type,
			units, reference_range, abnormal_flag, result_status, observation_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT ON CONSTRAINT observation_identity DO NOTHING`,
		o.ID, o.PatientID, o.ReportID, o.Code, o.Display, o.Value, o.ValueType,
		o.Units, o.ReferenceRange, o.AbnormalFlag, o.ResultStatus, o.ObservationTime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *observationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Observation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM observation WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+obsCols+` FROM observation
		WHERE patient_id = $1 ORDER BY observation_time DESC NULLS LAST LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PatientID, &o.ReportID, &o.Code, &o.Display, &o.Value, &o.ValueType,
			&o.Units, &o.ReferenceRange, &o.AbnormalFlag, &o.ResultStatus, &o.ObservationTime, &o.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &o)
	}
	return items, total, nil
}
