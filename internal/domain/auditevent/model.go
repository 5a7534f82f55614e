package auditevent

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event maps to the audit_event table: an append-only trail of everything the
// interface engine did with an inbound message.
type Event struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	UserID       *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	Action       string                 `db:"action" json:"action"`
	ResourceType string                 `db:"resource_type" json:"resource_type"`
	ResourceID   string                 `db:"resource_id" json:"resource_id"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	Severity     string                 `db:"severity" json:"severity"`
	Status       string                 `db:"status" json:"status"`
	Recorded     time.Time              `db:"recorded" json:"recorded"`
}
