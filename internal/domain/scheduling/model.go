package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment maps to the appointment table. ExternalID carries the sender's
// placer or filler appointment id from the SCH segment; reschedule and cancel
// messages correlate on it, never on the locally generated id.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ExternalID         *string    `db:"external_id" json:"external_id,omitempty"`
	Status             string     `db:"status" json:"status"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	StartTime          *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime            *time.Time `db:"end_time" json:"end_time,omitempty"`
	MinutesDuration    *int       `db:"minutes_duration" json:"minutes_duration,omitempty"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	PractitionerID     *uuid.UUID `db:"practitioner_id" json:"practitioner_id,omitempty"`
	LocationID         *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	Note               *string    `db:"note" json:"note,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}
