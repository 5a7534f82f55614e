package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. ExternalID carries the identifier the
// sending system used in PID-3; together with the MRN it is how inbound HL7
// messages are matched to existing rows, which is what makes replayed ADT
// messages idempotent.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ExternalID   *string    `db:"external_id" json:"external_id,omitempty"`
	MRN          string     `db:"mrn" json:"mrn"`
	Active       bool       `db:"active" json:"active"`
	FirstName    string     `db:"first_name" json:"first_name"`
	MiddleName   *string    `db:"middle_name" json:"middle_name,omitempty"`
	LastName     string     `db:"last_name" json:"last_name"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender       *string    `db:"gender" json:"gender,omitempty"`
	PhoneHome    *string    `db:"phone_home" json:"phone_home,omitempty"`
	AddressLine1 *string    `db:"address_line1" json:"address_line1,omitempty"`
	City         *string    `db:"city" json:"city,omitempty"`
	State        *string    `db:"state" json:"state,omitempty"`
	PostalCode   *string    `db:"postal_code" json:"postal_code,omitempty"`
	SSN          *string    `db:"ssn" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Practitioner maps to the practitioner table. Appointment messages reference
// practitioners by the sender's id (AIP-3), resolved against ExternalID.
type Practitioner struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	Active     bool      `db:"active" json:"active"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	NPINumber  *string   `db:"npi_number" json:"npi_number,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Location maps to the location table; resolved from AIL-3.
type Location struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	Name       string    `db:"name" json:"name"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
