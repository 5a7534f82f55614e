package diagnostics

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("diagnostics: not found")

type ReportRepository interface {
	Create(ctx context.Context, r *LabReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabReport, error)
}

type ObservationRepository interface {
	// Create inserts the observation, silently skipping when a row with the
	// same observation identity already exists. It reports whether a row was
	// actually written.
	Create(ctx context.Context, o *Observation) (inserted bool, err error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Observation, int, error)
}
