package hl7

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/hl7-engine/internal/platform/hl7v2"
)

// Status is the lifecycle state of a queued message. The queue store owns all
// transitions; the processor only reports success or failure back to it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// QueueEntry maps to the hl7_message table: one row per received message,
// retaining the raw text for audit and replay next to the serialized parse
// result. It is the durability boundary of the engine: a crash mid-processing
// leaves the row in a non-terminal state for retry, never looking "done".
type QueueEntry struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	RawMessage         string         `db:"raw_message" json:"raw_message"`
	ParsedData         *hl7v2.Message `db:"parsed_data" json:"parsed_data,omitempty"`
	MessageType        string         `db:"message_type" json:"message_type"`
	ControlID          string         `db:"control_id" json:"control_id"`
	SendingApplication string         `db:"sending_application" json:"sending_application"`
	SendingFacility    string         `db:"sending_facility" json:"sending_facility"`
	Status             Status         `db:"status" json:"status"`
	Attempts           int            `db:"attempts" json:"attempts"`
	LastError          *string        `db:"last_error" json:"last_error,omitempty"`
	ResourceID         *uuid.UUID     `db:"resource_id" json:"resource_id,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// ListFilter narrows queue listings for the operational endpoints.
type ListFilter struct {
	Status      Status
	MessageType string
	Limit       int
	Offset      int
}

// QueueStats is a per-status count of queue entries for dashboarding.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
