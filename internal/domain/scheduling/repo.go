package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no appointment matches the lookup.
var ErrNotFound = errors.New("scheduling: appointment not found")

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByExternalID(ctx context.Context, externalID string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
}
