package identity

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

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, external_id, mrn, active, first_name, middle_name, last_name,
	birth_date, gender, phone_home, address_line1, city, state, postal_code, ssn,
	created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ExternalID, &p.MRN, &p.Active, &p.FirstName, &p.MiddleName, &p.LastName,
		&p.BirthDate, &p.Gender, &p.PhoneHome, &p.AddressLine1, &p.City, &p.State, &p.PostalCode, &p.SSN,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, external_id, mrn, active, first_name, middle_name, last_name,
			birth_date, gender, phone_home, address_line1, city, state, postal_code, ssn)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.ExternalID, p.MRN, p.Active, p.FirstName, p.MiddleName, p.LastName,
		p.BirthDate, p.Gender, p.PhoneHome, p.AddressLine1, p.City, p.State, p.PostalCode, p.SSN)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByIdentifier(ctx context.Context, identifier string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE external_id = $1 OR mrn = $1`, identifier))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET external_id=$2, mrn=$3, active=$4, first_name=$5, middle_name=$6,
			last_name=$7, birth_date=$8, gender=$9, phone_home=$10, address_line1=$11,
			city=$12, state=$13, postal_code=$14, ssn=$15, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.ExternalID, p.MRN, p.Active, p.FirstName, p.MiddleName,
		p.LastName, p.BirthDate, p.Gender, p.PhoneHome, p.AddressLine1,
		p.City, p.State, p.PostalCode, p.SSN)
	return err
}

// =========== Practitioner Repository ===========

type practitionerRepoPG struct{ pool *pgxpool.Pool }

func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerRepository {
	return &practitionerRepoPG{pool: pool}
}

func (r *practitionerRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *practitionerRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Practitioner, error) {
	var p Practitioner
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, active, first_name, last_name, npi_number, created_at, updated_at
		FROM practitioner WHERE external_id = $1`, externalID).
		Scan(&p.ID, &p.ExternalID, &p.Active, &p.FirstName, &p.LastName, &p.NPINumber, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

// =========== Location Repository ===========

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository { return &locationRepoPG{pool: pool} }

func (r *locationRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *locationRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Location, error) {
	var l Location
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, name, status, created_at
		FROM location WHERE external_id = $1`, externalID).
		Scan(&l.ID, &l.ExternalID, &l.Name, &l.Status, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &l, err
}
