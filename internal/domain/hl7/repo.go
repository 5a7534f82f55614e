package hl7

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a queue entry does not exist.
var ErrNotFound = errors.New("hl7: message not found")

// ErrNotRetryable is returned when Retry is called on an entry that is not in
// a failed state.
var ErrNotRetryable = errors.New("hl7: message is not in a retryable state")

// QueueRepository persists received messages and drives their status
// lifecycle. Status transitions happen here, not in callers, so the set of
// legal transitions lives in one place.
type QueueRepository interface {
	Enqueue(ctx context.Context, e *QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// List returns one page of entries plus the total count matching the
	// filter, so callers can build a paged response.
	List(ctx context.Context, filter ListFilter) ([]*QueueEntry, int, error)
	// MarkProcessing moves pending -> processing and increments the attempt
	// counter. It returns ErrNotFound when the row is missing or not pending.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, resourceID *uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
	// Retry moves failed -> pending so an operator can requeue a message
	// after fixing the underlying cause.
	Retry(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (*QueueStats, error)
}
