package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("identity: not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetByIdentifier matches either the external id or the MRN.
	GetByIdentifier(ctx context.Context, identifier string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
}

type PractitionerRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Practitioner, error)
}

type LocationRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Location, error)
}
