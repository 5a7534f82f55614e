package hl7v2

// ValidationResult is the outcome of structural validation. Missing segments
// are reported as data, never as errors: the caller uses the result to decide
// between an AA and an AR acknowledgment.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks that the segments required for the declared message type are
// present. Message types without a rule pass validation unchanged: structural
// acceptance and business routing are deliberately decoupled, so a sender gets
// an AA for a well-formed message of a type the processor does not implement,
// and the failure surfaces later as a processing (AE) error.
func Validate(msg *Message) ValidationResult {
	var errs []string

	switch msg.MessageType {
	case "ADT^A04", "ADT^A08":
		if msg.PID == nil {
			errs = append(errs, "missing required PID segment")
		}
	case "SIU^S12":
		if msg.SCH == nil {
			errs = append(errs, "missing required SCH segment")
		}
		if msg.PID == nil {
			errs = append(errs, "missing required PID segment")
		}
	case "SIU^S13", "SIU^S15":
		if msg.SCH == nil {
			errs = append(errs, "missing required SCH segment")
		}
	case "ORU^R01":
		if msg.PID == nil {
			errs = append(errs, "missing required PID segment")
		}
		if len(msg.OBX) == 0 {
			errs = append(errs, "ORU^R01 requires at least one OBX segment")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
