package hl7

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7-engine/internal/platform/hl7v2"
)

// AuditRecorder receives a trail entry for every inbound message decision.
// actorID identifies the principal behind the request when the transport
// knows one; interface feeds usually don't carry it. The engine never fails
// a message because auditing failed; recorders log their own errors.
type AuditRecorder interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, resourceID, severity string, metadata map[string]interface{})
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, actorID *uuid.UUID, action, resourceID, severity string, metadata map[string]interface{})

func (f AuditRecorderFunc) Record(ctx context.Context, actorID *uuid.UUID, action, resourceID, severity string, metadata map[string]interface{}) {
	f(ctx, actorID, action, resourceID, severity, metadata)
}

const (
	auditParseRejected      = "hl7.message.parse_rejected"
	auditValidationRejected = "hl7.message.validation_rejected"
	auditReceived           = "hl7.message.received"
	auditProcessed          = "hl7.message.processed"
	auditFailed             = "hl7.message.failed"
	auditRetried            = "hl7.message.retried"
)

// ReceiveResult is what the transport layer needs to answer the sender:
// the ACK text plus enough detail for the HTTP response body.
type ReceiveResult struct {
	Accepted    bool       `json:"accepted"`
	MessageID   *uuid.UUID `json:"message_id,omitempty"`
	MessageType string     `json:"message_type,omitempty"`
	ControlID   string     `json:"control_id,omitempty"`
	ResourceID  *uuid.UUID `json:"resource_id,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
	Ack         string     `json:"ack"`
}

// Service is the inbound pipeline: parse, validate, persist, process, audit
// and acknowledge. Rejections (parse or validation) are answered before
// anything is enqueued; accepted messages are durable before the ACK goes out.
type Service struct {
	queue     QueueRepository
	processor *Processor
	audit     AuditRecorder
	logger    zerolog.Logger
}

func NewService(queue QueueRepository, processor *Processor, audit AuditRecorder, logger zerolog.Logger) *Service {
	return &Service{
		queue:     queue,
		processor: processor,
		audit:     audit,
		logger:    logger.With().Str("component", "hl7_service").Logger(),
	}
}

// Receive accepts a raw message into the queue without processing it. The
// returned ACK commits only to receipt; processing happens later via
// ReceiveAndProcess or an operator retry sweep.
func (s *Service) Receive(ctx context.Context, raw string, actorID *uuid.UUID) (*ReceiveResult, error) {
	entry, result := s.accept(ctx, raw, actorID)
	if entry == nil {
		return result, nil
	}
	result.Ack = hl7v2.GenerateACK(entry.ParsedData, hl7v2.AckAccept, "")
	return result, nil
}

// ReceiveAndProcess accepts a raw message and processes it in the same call,
// so the ACK reflects the processing outcome: AA when the message was applied,
// AE when it was accepted but processing failed.
func (s *Service) ReceiveAndProcess(ctx context.Context, raw string, actorID *uuid.UUID) (*ReceiveResult, error) {
	entry, result := s.accept(ctx, raw, actorID)
	if entry == nil {
		return result, nil
	}

	if err := s.queue.MarkProcessing(ctx, entry.ID); err != nil {
		return nil, err
	}
	resourceID, err := s.processor.Process(ctx, entry.ParsedData)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", entry.ID.String()).
			Str("message_type", entry.MessageType).Msg("message processing failed")
		if markErr := s.queue.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			return nil, markErr
		}
		s.record(ctx, actorID, auditFailed, entry.ID.String(), "error", map[string]interface{}{
			"message_type": entry.MessageType,
			"control_id":   entry.ControlID,
			"error":        err.Error(),
		})
		result.Status = StatusFailed
		result.Errors = []string{err.Error()}
		result.Ack = hl7v2.GenerateACK(entry.ParsedData, hl7v2.AckError, err.Error())
		return result, nil
	}

	if err := s.queue.MarkProcessed(ctx, entry.ID, resourceID); err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditProcessed, entry.ID.String(), "info", map[string]interface{}{
		"message_type": entry.MessageType,
		"control_id":   entry.ControlID,
		"resource_id":  uuidString(resourceID),
	})
	result.Status = StatusProcessed
	result.ResourceID = resourceID
	result.Ack = hl7v2.GenerateACK(entry.ParsedData, hl7v2.AckAccept, "")
	return result, nil
}

// accept runs the shared front half of the pipeline. A nil entry means the
// message was rejected and the result already carries the negative ACK.
func (s *Service) accept(ctx context.Context, raw string, actorID *uuid.UUID) (*QueueEntry, *ReceiveResult) {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("inbound message rejected by parser")
		s.record(ctx, actorID, auditParseRejected, "", "error", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, &ReceiveResult{
			Accepted: false,
			Errors:   []string{err.Error()},
			Ack:      hl7v2.GenerateACK(nil, hl7v2.AckReject, err.Error()),
		}
	}

	if v := hl7v2.Validate(msg); !v.Valid {
		s.logger.Warn().Str("message_type", msg.MessageType).
			Str("control_id", msg.MessageControlID).
			Strs("errors", v.Errors).Msg("inbound message rejected by validator")
		s.record(ctx, actorID, auditValidationRejected, msg.MessageControlID, "warning", map[string]interface{}{
			"message_type": msg.MessageType,
			"errors":       strings.Join(v.Errors, "; "),
		})
		return nil, &ReceiveResult{
			Accepted:    false,
			MessageType: msg.MessageType,
			ControlID:   msg.MessageControlID,
			Errors:      v.Errors,
			Ack:         hl7v2.GenerateACK(msg, hl7v2.AckReject, strings.Join(v.Errors, "; ")),
		}
	}

	entry := &QueueEntry{
		RawMessage:         raw,
		ParsedData:         msg,
		MessageType:        msg.MessageType,
		ControlID:          msg.MessageControlID,
		SendingApplication: msg.SendingApplication,
		SendingFacility:    msg.SendingFacility,
		Status:             StatusPending,
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("control_id", msg.MessageControlID).
			Msg("failed to enqueue message")
		return nil, &ReceiveResult{
			Accepted:    false,
			MessageType: msg.MessageType,
			ControlID:   msg.MessageControlID,
			Errors:      []string{"internal storage error"},
			Ack:         hl7v2.GenerateACK(msg, hl7v2.AckError, "internal storage error"),
		}
	}

	s.logger.Info().Str("message_id", entry.ID.String()).
		Str("message_type", entry.MessageType).
		Str("control_id", entry.ControlID).Msg("message received")
	s.record(ctx, actorID, auditReceived, entry.ID.String(), "info", map[string]interface{}{
		"message_type": entry.MessageType,
		"control_id":   entry.ControlID,
		"sending_app":  entry.SendingApplication,
	})

	return entry, &ReceiveResult{
		Accepted:    true,
		MessageID:   &entry.ID,
		MessageType: entry.MessageType,
		ControlID:   entry.ControlID,
		Status:      StatusPending,
	}
}

// RetryMessage requeues a failed message and immediately reprocesses it.
func (s *Service) RetryMessage(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*QueueEntry, error) {
	if err := s.queue.Retry(ctx, id); err != nil {
		return nil, err
	}
	if err := s.queue.MarkProcessing(ctx, id); err != nil {
		return nil, err
	}
	entry, err := s.queue.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, auditRetried, id.String(), "info", map[string]interface{}{
		"message_type": entry.MessageType,
		"attempts":     entry.Attempts,
	})

	resourceID, procErr := s.processor.Process(ctx, entry.ParsedData)
	if procErr != nil {
		s.logger.Error().Err(procErr).Str("message_id", id.String()).Msg("retry failed")
		if err := s.queue.MarkFailed(ctx, id, procErr.Error()); err != nil {
			return nil, err
		}
		s.record(ctx, actorID, auditFailed, id.String(), "error", map[string]interface{}{
			"message_type": entry.MessageType,
			"error":        procErr.Error(),
		})
	} else {
		if err := s.queue.MarkProcessed(ctx, id, resourceID); err != nil {
			return nil, err
		}
		s.record(ctx, actorID, auditProcessed, id.String(), "info", map[string]interface{}{
			"message_type": entry.MessageType,
			"resource_id":  uuidString(resourceID),
		})
	}
	return s.queue.GetByID(ctx, id)
}

func (s *Service) ListMessages(ctx context.Context, filter ListFilter) ([]*QueueEntry, int, error) {
	return s.queue.List(ctx, filter)
}

func (s *Service) GetMessage(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return s.queue.GetByID(ctx, id)
}

func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	return s.queue.Stats(ctx)
}

func (s *Service) record(ctx context.Context, actorID *uuid.UUID, action, resourceID, severity string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, actorID, action, resourceID, severity, metadata)
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
