package hl7

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7-engine/internal/domain/diagnostics"
	"github.com/ehr/hl7-engine/internal/domain/identity"
	"github.com/ehr/hl7-engine/internal/domain/scheduling"
	"github.com/ehr/hl7-engine/internal/platform/db"
	"github.com/ehr/hl7-engine/internal/platform/hl7v2"
)

// --- in-memory repositories ---

type mockPatientRepo struct {
	patients map[uuid.UUID]*identity.Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*identity.Patient)}
}

func (m *mockPatientRepo) Create(ctx context.Context, p *identity.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByIdentifier(ctx context.Context, identifier string) (*identity.Patient, error) {
	for _, p := range m.patients {
		if (p.ExternalID != nil && *p.ExternalID == identifier) || p.MRN == identifier {
			cp := *p
			return &cp, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *mockPatientRepo) Update(ctx context.Context, p *identity.Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return identity.ErrNotFound
	}
	cp := *p
	m.patients[p.ID] = &cp
	return nil
}

type mockPractitionerRepo struct {
	practitioners map[string]*identity.Practitioner
}

func (m *mockPractitionerRepo) GetByExternalID(ctx context.Context, externalID string) (*identity.Practitioner, error) {
	if p, ok := m.practitioners[externalID]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

type mockLocationRepo struct {
	locations map[string]*identity.Location
}

func (m *mockLocationRepo) GetByExternalID(ctx context.Context, externalID string) (*identity.Location, error) {
	if l, ok := m.locations[externalID]; ok {
		return l, nil
	}
	return nil, identity.ErrNotFound
}

type mockAppointmentRepo struct {
	appointments map[uuid.UUID]*scheduling.Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appointments: make(map[uuid.UUID]*scheduling.Appointment)}
}

func (m *mockAppointmentRepo) Create(ctx context.Context, a *scheduling.Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) GetByExternalID(ctx context.Context, externalID string) (*scheduling.Appointment, error) {
	for _, a := range m.appointments {
		if a.ExternalID != nil && *a.ExternalID == externalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, scheduling.ErrNotFound
}

func (m *mockAppointmentRepo) Update(ctx context.Context, a *scheduling.Appointment) error {
	if _, ok := m.appointments[a.ID]; !ok {
		return scheduling.ErrNotFound
	}
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

type mockReportRepo struct {
	reports map[uuid.UUID]*diagnostics.LabReport
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[uuid.UUID]*diagnostics.LabReport)}
}

func (m *mockReportRepo) Create(ctx context.Context, r *diagnostics.LabReport) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*diagnostics.LabReport, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, diagnostics.ErrNotFound
	}
	return r, nil
}

type mockObservationRepo struct {
	observations map[uuid.UUID]*diagnostics.Observation
	identities   map[string]bool
}

func newMockObservationRepo() *mockObservationRepo {
	return &mockObservationRepo{
		observations: make(map[uuid.UUID]*diagnostics.Observation),
		identities:   make(map[string]bool),
	}
}

func (m *mockObservationRepo) Create(ctx context.Context, o *diagnostics.Observation) (bool, error) {
	ts := ""
	if o.ObservationTime != nil {
		ts = o.ObservationTime.UTC().Format(time.RFC3339)
	}
	key := fmt.Sprintf("%s|%s|%s|%s", o.PatientID, o.Code, ts, o.Value)
	if m.identities[key] {
		return false, nil
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	cp := *o
	m.observations[o.ID] = &cp
	m.identities[key] = true
	return true, nil
}

func (m *mockObservationRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*diagnostics.Observation, int, error) {
	var out []*diagnostics.Observation
	for _, o := range m.observations {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

type processorFixture struct {
	patients      *mockPatientRepo
	practitioners *mockPractitionerRepo
	locations     *mockLocationRepo
	appointments  *mockAppointmentRepo
	reports       *mockReportRepo
	observations  *mockObservationRepo
	processor     *Processor
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		patients:      newMockPatientRepo(),
		practitioners: &mockPractitionerRepo{practitioners: make(map[string]*identity.Practitioner)},
		locations:     &mockLocationRepo{locations: make(map[string]*identity.Location)},
		appointments:  newMockAppointmentRepo(),
		reports:       newMockReportRepo(),
		observations:  newMockObservationRepo(),
	}
	passthrough := db.TxRunnerFunc(func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	})
	f.processor = NewProcessor(f.patients, f.practitioners, f.locations,
		f.appointments, f.reports, f.observations, passthrough, zerolog.Nop())
	return f
}

func mustParse(t *testing.T, raw string) *hl7v2.Message {
	t.Helper()
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return msg
}

// --- tests ---

const adtA04 = "MSH|^~\\&|REG|HOSP|ENGINE|HOSP|20240101120000||ADT^A04|ADT001|P|2.3\r" +
	"PID|1||EXT123^^^HOSP^MR||Doe^Jane^Q||19800101|F|||123 Main St^^Springfield^IL^62704||555-0100|||||||111-22-3333"

func TestProcess_ADTCreatesPatient(t *testing.T) {
	f := newProcessorFixture()

	resourceID, err := f.processor.Process(context.Background(), mustParse(t, adtA04))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resourceID == nil {
		t.Fatal("expected a resource id")
	}

	p, err := f.patients.GetByID(context.Background(), *resourceID)
	if err != nil {
		t.Fatalf("patient not stored: %v", err)
	}
	if p.FirstName != "Jane" || p.LastName != "Doe" {
		t.Errorf("unexpected name: %s %s", p.FirstName, p.LastName)
	}
	if p.ExternalID == nil || *p.ExternalID != "EXT123" {
		t.Errorf("unexpected external id: %v", p.ExternalID)
	}
	if p.Gender == nil || *p.Gender != "female" {
		t.Errorf("unexpected gender: %v", p.Gender)
	}
	if p.City == nil || *p.City != "Springfield" {
		t.Errorf("unexpected city: %v", p.City)
	}
}

func TestProcess_ADTUpsertIsIdempotent(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	first, err := f.processor.Process(ctx, mustParse(t, adtA04))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.processor.Process(ctx, mustParse(t, adtA04))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *first != *second {
		t.Errorf("replay produced a different patient: %s vs %s", first, second)
	}
	if len(f.patients.patients) != 1 {
		t.Errorf("expected 1 patient row, got %d", len(f.patients.patients))
	}
}

func TestProcess_A08UpdatesExistingPatient(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	created, err := f.processor.Process(ctx, mustParse(t, adtA04))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a08 := "MSH|^~\\&|REG|HOSP|ENGINE|HOSP|20240102090000||ADT^A08|ADT002|P|2.3\r" +
		"PID|1||EXT123^^^HOSP^MR||Doe-Smith^Jane||19800101|F"
	updated, err := f.processor.Process(ctx, mustParse(t, a08))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *created != *updated {
		t.Fatal("A08 for a known identifier must update, not create")
	}
	p, _ := f.patients.GetByID(ctx, *created)
	if p.LastName != "Doe-Smith" {
		t.Errorf("expected updated last name, got %s", p.LastName)
	}
}

func TestProcess_S12BooksAppointment(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()
	f.practitioners.practitioners["DOC9"] = &identity.Practitioner{ID: uuid.New(), FirstName: "Greg", LastName: "House"}
	f.locations.locations["CLINIC1"] = &identity.Location{ID: uuid.New(), Name: "Main Clinic"}

	s12 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240110080000||SIU^S12|SIU001|P|2.3\r" +
		"SCH|APPT500^PLACER|FILL500^FILLER||||CHECKUP|Routine checkup|ROUTINE|45|MIN|^^^20240215093000\r" +
		"PID|1||EXT123^^^HOSP^MR||Doe^Jane||19800101|F\r" +
		"AIL|1||CLINIC1^Main Clinic\r" +
		"AIP|1||DOC9^House^Greg"

	resourceID, err := f.processor.Process(ctx, mustParse(t, s12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	appt, err := f.appointments.GetByID(ctx, *resourceID)
	if err != nil {
		t.Fatalf("appointment not stored: %v", err)
	}
	if appt.ExternalID == nil || *appt.ExternalID != "APPT500" {
		t.Errorf("expected placer id APPT500, got %v", appt.ExternalID)
	}
	if appt.Status != "booked" {
		t.Errorf("expected booked, got %s", appt.Status)
	}
	if appt.StartTime == nil || appt.StartTime.Format("200601021504") != "202402150930" {
		t.Errorf("unexpected start time: %v", appt.StartTime)
	}
	if appt.MinutesDuration == nil || *appt.MinutesDuration != 45 {
		t.Errorf("expected 45 minute duration, got %v", appt.MinutesDuration)
	}
	if appt.EndTime == nil || !appt.EndTime.Equal(appt.StartTime.Add(45*time.Minute)) {
		t.Errorf("unexpected end time: %v", appt.EndTime)
	}
	if appt.PractitionerID == nil {
		t.Error("expected resolved practitioner")
	}
	if appt.LocationID == nil {
		t.Error("expected resolved location")
	}
	// Patient auto-created from the embedded PID.
	if _, err := f.patients.GetByIdentifier(ctx, "EXT123"); err != nil {
		t.Errorf("expected patient created for unknown identifier: %v", err)
	}
}

func TestProcess_S12UnknownProviderIsTolerated(t *testing.T) {
	f := newProcessorFixture()

	s12 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240110080000||SIU^S12|SIU002|P|2.3\r" +
		"SCH|APPT501|||||CHECKUP||ROUTINE||MIN|^^^20240301110000\r" +
		"PID|1||EXT200||Roe^Rich\r" +
		"AIP|1||GHOST^Nobody^At"

	resourceID, err := f.processor.Process(context.Background(), mustParse(t, s12))
	if err != nil {
		t.Fatalf("unknown provider must not fail the message: %v", err)
	}
	appt, _ := f.appointments.GetByID(context.Background(), *resourceID)
	if appt.PractitionerID != nil {
		t.Error("expected unassigned practitioner")
	}
	if appt.MinutesDuration == nil || *appt.MinutesDuration != defaultAppointmentMinutes {
		t.Errorf("expected default duration, got %v", appt.MinutesDuration)
	}
}

func TestProcess_S13RequiresExistingAppointment(t *testing.T) {
	f := newProcessorFixture()

	s13 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240111080000||SIU^S13|SIU003|P|2.3\r" +
		"SCH|NOPE999|||||||||MIN|^^^20240320140000"

	_, err := f.processor.Process(context.Background(), mustParse(t, s13))
	if !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(f.appointments.appointments) != 0 {
		t.Error("reschedule of unknown appointment must not write rows")
	}
}

func TestProcess_S13MovesAppointment(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	ext := "APPT700"
	start := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	seed := &scheduling.Appointment{ExternalID: &ext, Status: "booked", StartTime: &start, PatientID: uuid.New()}
	if err := f.appointments.Create(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s13 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240111080000||SIU^S13|SIU004|P|2.3\r" +
		"SCH|APPT700||||||Moved per patient request|ROUTINE|60|MIN|^^^20240401100000"

	resourceID, err := f.processor.Process(ctx, mustParse(t, s13))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *resourceID != seed.ID {
		t.Error("reschedule must update the existing row")
	}
	appt, _ := f.appointments.GetByID(ctx, seed.ID)
	if appt.StartTime.Format("20060102") != "20240401" {
		t.Errorf("expected moved start time, got %v", appt.StartTime)
	}
	if appt.MinutesDuration == nil || *appt.MinutesDuration != 60 {
		t.Errorf("expected 60 minute duration, got %v", appt.MinutesDuration)
	}
}

func TestProcess_S15CancelsAppointment(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	ext := "APPT800"
	seed := &scheduling.Appointment{ExternalID: &ext, Status: "booked", PatientID: uuid.New()}
	if err := f.appointments.Create(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s15 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240112080000||SIU^S15|SIU005|P|2.3\r" +
		"SCH|APPT800|||||Patient request"

	if _, err := f.processor.Process(ctx, mustParse(t, s15)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	appt, _ := f.appointments.GetByID(ctx, seed.ID)
	if appt.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", appt.Status)
	}
	if appt.CancellationReason == nil || *appt.CancellationReason != "Patient request" {
		t.Errorf("unexpected cancellation reason: %v", appt.CancellationReason)
	}
}

func TestProcess_S15DefaultCancellationReason(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	ext := "APPT801"
	seed := &scheduling.Appointment{ExternalID: &ext, Status: "booked", PatientID: uuid.New()}
	if err := f.appointments.Create(ctx, seed); err != nil {
		t.Fatal(err)
	}

	s15 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240112080000||SIU^S15|SIU006|P|2.3\r" +
		"SCH|APPT801"

	if _, err := f.processor.Process(ctx, mustParse(t, s15)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	appt, _ := f.appointments.GetByID(ctx, seed.ID)
	if appt.CancellationReason == nil || *appt.CancellationReason != "Cancelled via HL7" {
		t.Errorf("expected default reason, got %v", appt.CancellationReason)
	}
}

func TestProcess_S15UnknownAppointmentFails(t *testing.T) {
	f := newProcessorFixture()

	s15 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240112080000||SIU^S15|SIU007|P|2.3\r" +
		"SCH|MISSING1"

	_, err := f.processor.Process(context.Background(), mustParse(t, s15))
	if !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestProcess_ORUCreatesReportAndObservations(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	oru := "MSH|^~\\&|LAB|LABFAC|DERMAPP|DERM|20240101120000||ORU^R01|MSG001|P|2.5\r" +
		"PID|1||EXT123^^^LAB^MR||Doe^Jane||19800101|F\r" +
		"OBX|1|NM|GLUCOSE^Glucose||95|mg/dL|70-110|N|||F|||20240101113000\r" +
		"OBX|2|NM|HBA1C^Hemoglobin A1c||5.4|%|4.0-5.6|N|||F|||20240101113000"

	resourceID, err := f.processor.Process(ctx, mustParse(t, oru))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := f.reports.GetByID(ctx, *resourceID)
	if err != nil {
		t.Fatalf("report not stored: %v", err)
	}
	if report.SourceControlID == nil || *report.SourceControlID != "MSG001" {
		t.Errorf("expected source control id MSG001, got %v", report.SourceControlID)
	}
	if len(f.patients.patients) != 1 {
		t.Errorf("expected 1 auto-created patient, got %d", len(f.patients.patients))
	}
	if len(f.observations.observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(f.observations.observations))
	}

	glucose := false
	for _, o := range f.observations.observations {
		if o.Code == "GLUCOSE" {
			glucose = true
			if o.Value != "95" {
				t.Errorf("expected value 95, got %s", o.Value)
			}
			if o.Units == nil || *o.Units != "mg/dL" {
				t.Errorf("unexpected units: %v", o.Units)
			}
			if o.AbnormalFlag == nil || *o.AbnormalFlag != "N" {
				t.Errorf("unexpected abnormal flag: %v", o.AbnormalFlag)
			}
			if o.ReportID == nil || *o.ReportID != report.ID {
				t.Error("observation not linked to report")
			}
		}
	}
	if !glucose {
		t.Error("glucose observation missing")
	}
}

func TestProcess_ORUReplayAddsNoObservations(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	oru := "MSH|^~\\&|LAB|LABFAC|DERMAPP|DERM|20240101120000||ORU^R01|MSG002|P|2.5\r" +
		"PID|1||EXT123^^^LAB^MR||Doe^Jane||19800101|F\r" +
		"OBX|1|NM|GLUCOSE^Glucose||95|mg/dL|70-110|N|||F|||20240101113000"

	if _, err := f.processor.Process(ctx, mustParse(t, oru)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.processor.Process(ctx, mustParse(t, oru)); err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}

	if len(f.observations.observations) != 1 {
		t.Errorf("replay must not duplicate observations, got %d", len(f.observations.observations))
	}
	if len(f.patients.patients) != 1 {
		t.Errorf("replay must not duplicate patients, got %d", len(f.patients.patients))
	}
	// A second report per ORU receipt is expected; only observations dedupe.
	if len(f.reports.reports) != 2 {
		t.Errorf("expected one report per receipt, got %d", len(f.reports.reports))
	}
}

func TestProcess_UnsupportedTypeFailsClosed(t *testing.T) {
	f := newProcessorFixture()

	raw := "MSH|^~\\&|APP|FAC|ENGINE|HOSP|20240101||XYZ^Z99|CTRL1|P|2.3"
	msg := mustParse(t, raw)

	// Structural validation has no rule for the type, so it passes.
	if v := hl7v2.Validate(msg); !v.Valid {
		t.Fatalf("expected unknown type to pass validation: %v", v.Errors)
	}

	_, err := f.processor.Process(context.Background(), msg)
	if !errors.Is(err, ErrUnsupportedMessageType) {
		t.Fatalf("expected ErrUnsupportedMessageType, got %v", err)
	}
	if len(f.patients.patients)+len(f.appointments.appointments)+len(f.observations.observations) != 0 {
		t.Error("unsupported message must leave no side effects")
	}
}

func TestProcess_SIURefreshesKnownPatientDemographics(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	if _, err := f.processor.Process(ctx, mustParse(t, adtA04)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	s12 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240110080000||SIU^S12|SIU010|P|2.3\r" +
		"SCH|APPT900|||||CHECKUP||ROUTINE|30|MIN|^^^20240501090000\r" +
		"PID|1||EXT123^^^HOSP^MR||Smith^Jane||19800101|F"

	if _, err := f.processor.Process(ctx, mustParse(t, s12)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.patients.patients) != 1 {
		t.Fatalf("expected 1 patient, got %d", len(f.patients.patients))
	}
	patient, err := f.patients.GetByIdentifier(ctx, "EXT123")
	if err != nil {
		t.Fatalf("patient lookup failed: %v", err)
	}
	if patient.LastName != "Smith" {
		t.Errorf("scheduling PID must refresh demographics, got last name %s", patient.LastName)
	}
}

func TestProcess_AILStartTimeWinsOverSCH(t *testing.T) {
	f := newProcessorFixture()
	ctx := context.Background()

	s12 := "MSH|^~\\&|SCHED|HOSP|ENGINE|HOSP|20240110080000||SIU^S12|SIU011|P|2.3\r" +
		"SCH|APPT901|||||CHECKUP||ROUTINE|30|MIN|^^^20240501090000\r" +
		"PID|1||EXT123^^^HOSP^MR||Doe^Jane||19800101|F\r" +
		"AIL|1||CLINIC1^Main Clinic|||20240501103000"

	resourceID, err := f.processor.Process(ctx, mustParse(t, s12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	appt, err := f.appointments.GetByID(ctx, *resourceID)
	if err != nil {
		t.Fatalf("appointment not stored: %v", err)
	}
	if appt.StartTime == nil || appt.StartTime.Format("200601021504") != "202405011030" {
		t.Errorf("expected the allocated location slot to win, got %v", appt.StartTime)
	}
	if appt.EndTime == nil || !appt.EndTime.Equal(appt.StartTime.Add(30*time.Minute)) {
		t.Errorf("unexpected end time: %v", appt.EndTime)
	}
}
