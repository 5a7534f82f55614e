package scheduling

import (
	"context"
	"errors"

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

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, external_id, status, cancellation_reason, start_time, end_time,
	minutes_duration, patient_id, practitioner_id, location_id, note, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ExternalID, &a.Status, &a.CancellationReason, &a.StartTime, &a.EndTime,
		&a.MinutesDuration, &a.PatientID, &a.PractitionerID, &a.LocationID, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, external_id, status, cancellation_reason, start_time, end_time,
			minutes_duration, patient_id, practitioner_id, location_id, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.ExternalID, a.Status, a.CancellationReason, a.StartTime, a.EndTime,
		a.MinutesDuration, a.PatientID, a.PractitionerID, a.LocationID, a.Note)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE external_id = $1`, externalID))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status=$2, cancellation_reason=$3, start_time=$4, end_time=$5,
			minutes_duration=$6, practitioner_id=$7, location_id=$8, note=$9, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.CancellationReason, a.StartTime, a.EndTime,
		a.MinutesDuration, a.PractitionerID, a.LocationID, a.Note)
	return err
}
