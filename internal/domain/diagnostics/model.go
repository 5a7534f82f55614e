package diagnostics

import (
	"time"

	"github.com/google/uuid"
)

// LabReport maps to the lab_report table: one row per inbound result message,
// holding the full observation set as a JSON blob for clinical-note rendering.
type LabReport struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	PatientID        uuid.UUID   `db:"patient_id" json:"patient_id"`
	Title            string      `db:"title" json:"title"`
	SourceControlID  *string     `db:"source_control_id" json:"source_control_id,omitempty"`
	Content          interface{} `db:"content" json:"content"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
}

// Observation maps to the observation table: one discrete row per OBX segment.
// Identity for duplicate detection is (patient, code, observation time, value);
// replays insert nothing new.
type Observation struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	ReportID        *uuid.UUID `db:"report_id" json:"report_id,omitempty"`
	Code            string     `db:"code" json:"code"`
	Display         string     `db:"display" json:"display"`
	Value           string     `db:"value" json:"value"`
	ValueType       string     `db:"value_type" json:"value_type"`
	Units           *string    `db:"units" json:"units,omitempty"`
	ReferenceRange  *string    `db:"reference_range" json:"reference_range,omitempty"`
	AbnormalFlag    *string    `db:"abnormal_flag" json:"abnormal_flag,omitempty"`
	ResultStatus    *string    `db:"result_status" json:"result_status,omitempty"`
	ObservationTime *time.Time `db:"observation_time" json:"observation_time,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
