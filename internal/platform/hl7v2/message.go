package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// ParseError indicates that raw text could not be tokenized into a minimally
// valid HL7 message. Messages that fail with a ParseError are rejected with an
// AR acknowledgment and are never enqueued.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "hl7v2: " + e.Reason
}

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Message is the canonical in-memory representation of one parsed HL7 v2.x
// message. It is JSON-serializable so the queue store can persist the parse
// result next to the raw text.
type Message struct {
	MessageType          string     `json:"message_type"`       // MSH-9, normalized to GROUP^TRIGGER
	MessageControlID     string     `json:"message_control_id"` // MSH-10
	SendingApplication   string     `json:"sending_application"` // MSH-3
	SendingFacility      string     `json:"sending_facility"`    // MSH-4
	ReceivingApplication string     `json:"receiving_application,omitempty"` // MSH-5
	ReceivingFacility    string     `json:"receiving_facility,omitempty"`    // MSH-6
	Timestamp            *time.Time `json:"timestamp,omitempty"`             // MSH-7
	Version              string     `json:"version,omitempty"`               // MSH-12

	PID *PID  `json:"pid,omitempty"`
	SCH *SCH  `json:"sch,omitempty"`
	AIL *AIL  `json:"ail,omitempty"`
	AIP *AIP  `json:"aip,omitempty"`
	OBX []OBX `json:"obx,omitempty"`

	// Other preserves segments the engine does not type (EVN, NTE, ...).
	Other []RawSegment `json:"other,omitempty"`
}

// TriggerEvent returns the trigger-event component of the message type
// ("A04" for "ADT^A04"), or "" for a bare group.
func (m *Message) TriggerEvent() string {
	if i := strings.IndexByte(m.MessageType, '^'); i >= 0 {
		return m.MessageType[i+1:]
	}
	return ""
}

// RawSegment is an untyped segment kept as split fields. Fields are addressed
// by HL7 field numbering: Field(0) is the segment code itself, Field(1) the
// first field after it.
type RawSegment struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Field returns the field at 1-based HL7 position i, or "" when absent.
func (s RawSegment) Field(i int) string {
	if i == 0 {
		return s.Name
	}
	idx := i - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx]
}

// Component returns component j (1-based) of field i, or "" when absent.
func (s RawSegment) Component(i, j int, d Delimiters) string {
	parts := strings.Split(s.Field(i), string(d.Component))
	if j < 1 || j > len(parts) {
		return ""
	}
	return parts[j-1]
}

// PID is the patient identification segment.
type PID struct {
	SetID              string     `json:"set_id,omitempty"`       // PID-1
	ExternalID         string     `json:"external_id,omitempty"`  // PID-3.1
	AssigningAuthority string     `json:"assigning_authority,omitempty"` // PID-3.4
	IdentifierType     string     `json:"identifier_type,omitempty"`     // PID-3.5
	FamilyName         string     `json:"family_name,omitempty"`  // PID-5.1
	GivenName          string     `json:"given_name,omitempty"`   // PID-5.2
	MiddleName         string     `json:"middle_name,omitempty"`  // PID-5.3
	DateOfBirth        *time.Time `json:"date_of_birth,omitempty"` // PID-7
	Sex                string     `json:"sex,omitempty"`          // PID-8
	AddressLine1       string     `json:"address_line1,omitempty"` // PID-11.1
	City               string     `json:"city,omitempty"`          // PID-11.3
	State              string     `json:"state,omitempty"`         // PID-11.4
	PostalCode         string     `json:"postal_code,omitempty"`   // PID-11.5
	PhoneHome          string     `json:"phone_home,omitempty"`    // PID-13
	SSN                string     `json:"ssn,omitempty"`           // PID-19
}

// SCH is the scheduling activity segment.
type SCH struct {
	PlacerAppointmentID string     `json:"placer_appointment_id,omitempty"` // SCH-1.1
	FillerAppointmentID string     `json:"filler_appointment_id,omitempty"` // SCH-2.1
	EventReason         string     `json:"event_reason,omitempty"`          // SCH-6
	AppointmentReason   string     `json:"appointment_reason,omitempty"`    // SCH-7
	Duration            string     `json:"duration,omitempty"`              // SCH-9
	DurationUnits       string     `json:"duration_units,omitempty"`        // SCH-10
	StartTime           *time.Time `json:"start_time,omitempty"`            // SCH-11.4
}

// AIL is the appointment location segment.
type AIL struct {
	SetID      string     `json:"set_id,omitempty"`      // AIL-1
	LocationID string     `json:"location_id,omitempty"` // AIL-3.1
	StartTime  *time.Time `json:"start_time,omitempty"`  // AIL-6
}

// AIP is the appointment personnel segment.
type AIP struct {
	SetID       string `json:"set_id,omitempty"`       // AIP-1
	PersonnelID string `json:"personnel_id,omitempty"` // AIP-3.1
	FamilyName  string `json:"family_name,omitempty"`  // AIP-3.2
	GivenName   string `json:"given_name,omitempty"`   // AIP-3.3
}

// OBX is one observation/result segment. OBX is the only segment that may
// repeat within a message; repeats accumulate in order on Message.OBX.
type OBX struct {
	SetID           string     `json:"set_id,omitempty"`           // OBX-1
	ValueType       string     `json:"value_type,omitempty"`       // OBX-2
	Code            string     `json:"code,omitempty"`             // OBX-3.1
	Text            string     `json:"text,omitempty"`             // OBX-3.2
	Value           string     `json:"value,omitempty"`            // OBX-5
	Units           string     `json:"units,omitempty"`            // OBX-6
	ReferenceRange  string     `json:"reference_range,omitempty"`  // OBX-7
	AbnormalFlag    string     `json:"abnormal_flag,omitempty"`    // OBX-8
	ResultStatus    string     `json:"result_status,omitempty"`    // OBX-11
	ObservationTime *time.Time `json:"observation_time,omitempty"` // OBX-14
}

// Parse tokenizes raw HL7 v2.x text into a Message. Segments are terminated
// by carriage returns; bare newlines and CRLF are tolerated. The separator set
// is taken from the message's own MSH-1/MSH-2, so senders that override the
// standard delimiters are still parsed correctly.
func Parse(raw string) (*Message, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, parseErrorf("message is empty")
	}

	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, parseErrorf("no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, parseErrorf("first segment must be MSH")
	}
	if len(lines[0]) < 4 {
		return nil, parseErrorf("MSH segment is truncated")
	}

	d := delimitersFromMSH(lines[0])

	msg := &Message{}
	if err := parseMSH(msg, lines[0], d); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if len(line) < 3 {
			continue
		}
		seg := splitSegment(line, d)
		switch seg.Name {
		case "PID":
			msg.PID = parsePID(seg, d)
		case "SCH":
			msg.SCH = parseSCH(seg, d)
		case "AIL":
			msg.AIL = parseAIL(seg, d)
		case "AIP":
			msg.AIP = parseAIP(seg, d)
		case "OBX":
			msg.OBX = append(msg.OBX, parseOBX(seg, d))
		default:
			msg.Other = append(msg.Other, seg)
		}
	}

	return msg, nil
}

// splitSegment splits one segment line into a RawSegment on the field separator.
func splitSegment(line string, d Delimiters) RawSegment {
	parts := strings.Split(line, string(d.Field))
	seg := RawSegment{Name: parts[0]}
	if len(parts) > 1 {
		seg.Fields = parts[1:]
	}
	return seg
}

// parseMSH extracts the header fields. MSH numbering is offset by one relative
// to other segments because MSH-1 is the field separator itself: after
// splitting on it, parts[1] is MSH-2, parts[2] is MSH-3, and so on.
func parseMSH(msg *Message, line string, d Delimiters) error {
	parts := strings.Split(line, string(d.Field))
	mshField := func(n int) string {
		idx := n - 1
		if idx < 1 || idx >= len(parts) {
			return ""
		}
		return parts[idx]
	}

	msg.SendingApplication = mshField(3)
	msg.SendingFacility = mshField(4)
	msg.ReceivingApplication = mshField(5)
	msg.ReceivingFacility = mshField(6)
	msg.Timestamp = ParseHL7DateTime(mshField(7))
	msg.Version = mshField(12)

	// MSH-9 may be a bare group ("ADT") or composite ("ADT^A04"); normalize
	// to the composite form whenever a trigger event is declared.
	typeParts := strings.Split(mshField(9), string(d.Component))
	group := typeParts[0]
	if group == "" {
		return parseErrorf("MSH-9 message type is missing")
	}
	msg.MessageType = group
	if len(typeParts) > 1 && typeParts[1] != "" {
		msg.MessageType = group + "^" + typeParts[1]
	}

	msg.MessageControlID = mshField(10)
	if msg.MessageControlID == "" {
		return parseErrorf("MSH-10 message control id is missing")
	}

	return nil
}

func parsePID(seg RawSegment, d Delimiters) *PID {
	return &PID{
		SetID:              seg.Field(1),
		ExternalID:         seg.Component(3, 1, d),
		AssigningAuthority: seg.Component(3, 4, d),
		IdentifierType:     seg.Component(3, 5, d),
		FamilyName:         seg.Component(5, 1, d),
		GivenName:          seg.Component(5, 2, d),
		MiddleName:         seg.Component(5, 3, d),
		DateOfBirth:        ParseHL7DateTime(seg.Field(7)),
		Sex:                seg.Field(8),
		AddressLine1:       seg.Component(11, 1, d),
		City:               seg.Component(11, 3, d),
		State:              seg.Component(11, 4, d),
		PostalCode:         seg.Component(11, 5, d),
		PhoneHome:          seg.Component(13, 1, d),
		SSN:                seg.Field(19),
	}
}

func parseSCH(seg RawSegment, d Delimiters) *SCH {
	return &SCH{
		PlacerAppointmentID: seg.Component(1, 1, d),
		FillerAppointmentID: seg.Component(2, 1, d),
		EventReason:         seg.Component(6, 1, d),
		AppointmentReason:   seg.Component(7, 1, d),
		Duration:            seg.Field(9),
		DurationUnits:       seg.Component(10, 1, d),
		StartTime:           ParseHL7DateTime(seg.Component(11, 4, d)),
	}
}

func parseAIL(seg RawSegment, d Delimiters) *AIL {
	return &AIL{
		SetID:      seg.Field(1),
		LocationID: seg.Component(3, 1, d),
		StartTime:  ParseHL7DateTime(seg.Field(6)),
	}
}

func parseAIP(seg RawSegment, d Delimiters) *AIP {
	return &AIP{
		SetID:       seg.Field(1),
		PersonnelID: seg.Component(3, 1, d),
		FamilyName:  seg.Component(3, 2, d),
		GivenName:   seg.Component(3, 3, d),
	}
}

func parseOBX(seg RawSegment, d Delimiters) OBX {
	return OBX{
		SetID:           seg.Field(1),
		ValueType:       seg.Field(2),
		Code:            seg.Component(3, 1, d),
		Text:            seg.Component(3, 2, d),
		Value:           seg.Field(5),
		Units:           seg.Component(6, 1, d),
		ReferenceRange:  seg.Field(7),
		AbnormalFlag:    seg.Field(8),
		ResultStatus:    seg.Field(11),
		ObservationTime: ParseHL7DateTime(seg.Field(14)),
	}
}
