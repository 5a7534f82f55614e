package hl7

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7-engine/internal/domain/diagnostics"
	"github.com/ehr/hl7-engine/internal/domain/identity"
	"github.com/ehr/hl7-engine/internal/domain/scheduling"
	"github.com/ehr/hl7-engine/internal/platform/db"
	"github.com/ehr/hl7-engine/internal/platform/hl7v2"
)

// ErrUnsupportedMessageType is returned when no handler is registered for a
// message type. Unknown types fail processing rather than being silently
// accepted.
var ErrUnsupportedMessageType = errors.New("hl7: unsupported message type")

type triggerEvent string

const (
	eventRegisterPatient    triggerEvent = "ADT^A04"
	eventUpdatePatient      triggerEvent = "ADT^A08"
	eventNewAppointment     triggerEvent = "SIU^S12"
	eventRescheduleAppt     triggerEvent = "SIU^S13"
	eventCancelAppointment  triggerEvent = "SIU^S15"
	eventUnsolicitedResults triggerEvent = "ORU^R01"
)

const defaultAppointmentMinutes = 30

// Processor applies a parsed message to the clinical tables. Each Process call
// runs inside a single transaction so a failure partway through leaves no
// partial writes behind and the message can be retried safely.
type Processor struct {
	patients      identity.PatientRepository
	practitioners identity.PractitionerRepository
	locations     identity.LocationRepository
	appointments  scheduling.AppointmentRepository
	reports       diagnostics.ReportRepository
	observations  diagnostics.ObservationRepository
	tx            db.TxRunner
	logger        zerolog.Logger
}

func NewProcessor(
	patients identity.PatientRepository,
	practitioners identity.PractitionerRepository,
	locations identity.LocationRepository,
	appointments scheduling.AppointmentRepository,
	reports diagnostics.ReportRepository,
	observations diagnostics.ObservationRepository,
	tx db.TxRunner,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		patients:      patients,
		practitioners: practitioners,
		locations:     locations,
		appointments:  appointments,
		reports:       reports,
		observations:  observations,
		tx:            tx,
		logger:        logger.With().Str("component", "hl7_processor").Logger(),
	}
}

// Process routes the message to its handler and returns the id of the primary
// resource it created or updated, when there is one.
func (p *Processor) Process(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	var resourceID *uuid.UUID
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		switch triggerEvent(msg.MessageType) {
		case eventRegisterPatient, eventUpdatePatient:
			resourceID, err = p.upsertPatient(ctx, msg)
		case eventNewAppointment:
			resourceID, err = p.createAppointment(ctx, msg)
		case eventRescheduleAppt:
			resourceID, err = p.rescheduleAppointment(ctx, msg)
		case eventCancelAppointment:
			resourceID, err = p.cancelAppointment(ctx, msg)
		case eventUnsolicitedResults:
			resourceID, err = p.ingestLabResults(ctx, msg)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedMessageType, msg.MessageType)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resourceID, nil
}

// upsertPatient creates or updates a patient from the PID segment, matched by
// the sender's identifier. A04 and A08 are deliberately handled the same way:
// a registration for a known patient updates, an update for an unknown one
// creates. Replays converge on the same row.
func (p *Processor) upsertPatient(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	pid := msg.PID
	if pid == nil {
		return nil, fmt.Errorf("hl7: %s message without PID segment", msg.MessageType)
	}
	if pid.ExternalID == "" {
		return nil, fmt.Errorf("hl7: PID-3 patient identifier is empty")
	}

	patient, created, err := p.savePatient(ctx, pid)
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Info().Str("patient_id", patient.ID.String()).
			Str("external_id", pid.ExternalID).Msg("patient created from ADT")
	} else {
		p.logger.Info().Str("patient_id", patient.ID.String()).
			Str("external_id", pid.ExternalID).Msg("patient updated from ADT")
	}
	return &patient.ID, nil
}

// savePatient is the single write path for PID demographics: create when the
// identifier is new, otherwise fold the segment into the existing row.
func (p *Processor) savePatient(ctx context.Context, pid *hl7v2.PID) (*identity.Patient, bool, error) {
	existing, err := p.patients.GetByIdentifier(ctx, pid.ExternalID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, false, err
	}

	patient := existing
	if patient == nil {
		patient = &identity.Patient{MRN: pid.ExternalID}
	}
	applyPID(patient, pid)

	if existing == nil {
		if err := p.patients.Create(ctx, patient); err != nil {
			return nil, false, err
		}
		return patient, true, nil
	}
	if err := p.patients.Update(ctx, patient); err != nil {
		return nil, false, err
	}
	return patient, false, nil
}

func applyPID(patient *identity.Patient, pid *hl7v2.PID) {
	patient.ExternalID = strPtr(pid.ExternalID)
	patient.Active = true
	if pid.GivenName != "" {
		patient.FirstName = pid.GivenName
	}
	if pid.FamilyName != "" {
		patient.LastName = pid.FamilyName
	}
	if p := strPtr(pid.MiddleName); p != nil {
		patient.MiddleName = p
	}
	if pid.DateOfBirth != nil {
		patient.BirthDate = pid.DateOfBirth
	}
	if g := mapGender(pid.Sex); g != nil {
		patient.Gender = g
	}
	if v := strPtr(pid.PhoneHome); v != nil {
		patient.PhoneHome = v
	}
	if v := strPtr(pid.AddressLine1); v != nil {
		patient.AddressLine1 = v
	}
	if v := strPtr(pid.City); v != nil {
		patient.City = v
	}
	if v := strPtr(pid.State); v != nil {
		patient.State = v
	}
	if v := strPtr(pid.PostalCode); v != nil {
		patient.PostalCode = v
	}
	if v := strPtr(pid.SSN); v != nil {
		patient.SSN = v
	}
}

// mapGender translates HL7 table 0001 administrative sex codes.
func mapGender(code string) *string {
	var g string
	switch code {
	case "M":
		g = "male"
	case "F":
		g = "female"
	case "O":
		g = "other"
	case "U":
		g = "unknown"
	default:
		return nil
	}
	return &g
}

// appointmentExternalID prefers the placer id and falls back to the filler id.
func appointmentExternalID(sch *hl7v2.SCH) string {
	if sch.PlacerAppointmentID != "" {
		return sch.PlacerAppointmentID
	}
	return sch.FillerAppointmentID
}

func (p *Processor) createAppointment(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	sch := msg.SCH
	if sch == nil || msg.PID == nil {
		return nil, fmt.Errorf("hl7: SIU^S12 message missing SCH or PID segment")
	}
	externalID := appointmentExternalID(sch)
	if externalID == "" {
		return nil, fmt.Errorf("hl7: SCH segment carries no appointment identifier")
	}

	// A replayed booking for a known appointment id becomes an update.
	if existing, err := p.appointments.GetByExternalID(ctx, externalID); err == nil {
		p.applySchedule(ctx, existing, msg)
		if err := p.appointments.Update(ctx, existing); err != nil {
			return nil, err
		}
		return &existing.ID, nil
	} else if !errors.Is(err, scheduling.ErrNotFound) {
		return nil, err
	}

	patientID, err := p.resolvePatient(ctx, msg)
	if err != nil {
		return nil, err
	}

	appt := &scheduling.Appointment{
		ExternalID: &externalID,
		Status:     "booked",
		PatientID:  patientID,
	}
	p.applySchedule(ctx, appt, msg)
	if err := p.appointments.Create(ctx, appt); err != nil {
		return nil, err
	}
	p.logger.Info().Str("appointment_id", appt.ID.String()).
		Str("external_id", externalID).Msg("appointment booked from SIU")
	return &appt.ID, nil
}

func (p *Processor) rescheduleAppointment(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	sch := msg.SCH
	if sch == nil {
		return nil, fmt.Errorf("hl7: SIU^S13 message without SCH segment")
	}
	externalID := appointmentExternalID(sch)
	appt, err := p.appointments.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, fmt.Errorf("hl7: reschedule for unknown appointment %q: %w", externalID, err)
		}
		return nil, err
	}
	p.applySchedule(ctx, appt, msg)
	appt.Status = "booked"
	if err := p.appointments.Update(ctx, appt); err != nil {
		return nil, err
	}
	p.logger.Info().Str("appointment_id", appt.ID.String()).
		Str("external_id", externalID).Msg("appointment rescheduled from SIU")
	return &appt.ID, nil
}

func (p *Processor) cancelAppointment(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	sch := msg.SCH
	if sch == nil {
		return nil, fmt.Errorf("hl7: SIU^S15 message without SCH segment")
	}
	externalID := appointmentExternalID(sch)
	appt, err := p.appointments.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, fmt.Errorf("hl7: cancel for unknown appointment %q: %w", externalID, err)
		}
		return nil, err
	}
	appt.Status = "cancelled"
	reason := sch.EventReason
	if reason == "" {
		reason = "Cancelled via HL7"
	}
	appt.CancellationReason = &reason
	if err := p.appointments.Update(ctx, appt); err != nil {
		return nil, err
	}
	p.logger.Info().Str("appointment_id", appt.ID.String()).
		Str("external_id", externalID).Msg("appointment cancelled from SIU")
	return &appt.ID, nil
}

// applySchedule copies timing, reason, provider and location from the message
// onto the appointment. Provider and location resolution is tolerant: an
// unknown AIP or AIL reference is logged and skipped rather than failing the
// whole message.
func (p *Processor) applySchedule(ctx context.Context, appt *scheduling.Appointment, msg *hl7v2.Message) {
	sch := msg.SCH

	// AIL-6 carries the slot actually allocated at the location, so it wins
	// over the requested SCH-11.4 time when both are present.
	var start *time.Time
	if msg.AIL != nil {
		start = msg.AIL.StartTime
	}
	if start == nil {
		start = sch.StartTime
	}
	if start != nil {
		appt.StartTime = start
		minutes := defaultAppointmentMinutes
		if d, err := strconv.Atoi(sch.Duration); err == nil && d > 0 {
			minutes = d
		}
		appt.MinutesDuration = &minutes
		end := start.Add(time.Duration(minutes) * time.Minute)
		appt.EndTime = &end
	}

	if sch.AppointmentReason != "" {
		appt.Note = &sch.AppointmentReason
	}

	if msg.AIP != nil && msg.AIP.PersonnelID != "" {
		pr, err := p.practitioners.GetByExternalID(ctx, msg.AIP.PersonnelID)
		switch {
		case err == nil:
			appt.PractitionerID = &pr.ID
		case errors.Is(err, identity.ErrNotFound):
			p.logger.Warn().Str("personnel_id", msg.AIP.PersonnelID).
				Msg("AIP references unknown practitioner, leaving appointment unassigned")
		default:
			p.logger.Error().Err(err).Str("personnel_id", msg.AIP.PersonnelID).
				Msg("practitioner lookup failed")
		}
	}
	if msg.AIL != nil && msg.AIL.LocationID != "" {
		loc, err := p.locations.GetByExternalID(ctx, msg.AIL.LocationID)
		switch {
		case err == nil:
			appt.LocationID = &loc.ID
		case errors.Is(err, identity.ErrNotFound):
			p.logger.Warn().Str("location_id", msg.AIL.LocationID).
				Msg("AIL references unknown location, leaving appointment unplaced")
		default:
			p.logger.Error().Err(err).Str("location_id", msg.AIL.LocationID).
				Msg("location lookup failed")
		}
	}
}

// resolvePatient upserts the patient named in the PID segment. Scheduling and
// result messages carry demographics too, so a known patient is refreshed
// rather than returned untouched, and an unknown one gets a record created.
func (p *Processor) resolvePatient(ctx context.Context, msg *hl7v2.Message) (uuid.UUID, error) {
	pid := msg.PID
	if pid == nil || pid.ExternalID == "" {
		return uuid.Nil, fmt.Errorf("hl7: message carries no patient identifier")
	}
	patient, created, err := p.savePatient(ctx, pid)
	if err != nil {
		return uuid.Nil, err
	}
	if created {
		p.logger.Info().Str("patient_id", patient.ID.String()).
			Str("external_id", pid.ExternalID).Msg("patient created from non-ADT message")
	}
	return patient.ID, nil
}

// ingestLabResults stores one lab report per ORU message plus one observation
// row per OBX segment. Observation inserts are duplicate-safe at the database
// level, so replaying the same result message adds nothing.
func (p *Processor) ingestLabResults(ctx context.Context, msg *hl7v2.Message) (*uuid.UUID, error) {
	if len(msg.OBX) == 0 {
		return nil, fmt.Errorf("hl7: ORU^R01 message without OBX segments")
	}
	patientID, err := p.resolvePatient(ctx, msg)
	if err != nil {
		return nil, err
	}

	title := "Lab Results"
	if msg.OBX[0].Text != "" {
		title = msg.OBX[0].Text
	}
	report := &diagnostics.LabReport{
		PatientID:       patientID,
		Title:           title,
		SourceControlID: strPtr(msg.MessageControlID),
		Content:         msg.OBX,
	}
	if err := p.reports.Create(ctx, report); err != nil {
		return nil, err
	}

	inserted := 0
	for _, obx := range msg.OBX {
		obs := &diagnostics.Observation{
			PatientID:       patientID,
			ReportID:        &report.ID,
			Code:            obx.Code,
			Display:         obx.Text,
			Value:           obx.Value,
			ValueType:       obx.ValueType,
			Units:           strPtr(obx.Units),
			ReferenceRange:  strPtr(obx.ReferenceRange),
			AbnormalFlag:    strPtr(obx.AbnormalFlag),
			ResultStatus:    strPtr(obx.ResultStatus),
			ObservationTime: obx.ObservationTime,
		}
		ok, err := p.observations.Create(ctx, obs)
		if err != nil {
			return nil, err
		}
		if ok {
			inserted++
		}
	}
	p.logger.Info().Str("report_id", report.ID.String()).
		Int("observations", inserted).Int("segments", len(msg.OBX)).
		Msg("lab results ingested from ORU")
	return &report.ID, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
