package hl7v2

import "strings"

// Delimiters is the separator set a message declares in MSH-1 and MSH-2.
// It is derived per message and passed by value through the parser so that
// concurrent inbound calls never share mutable parsing state.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters returns the standard HL7 separator set (|^~\&).
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Field:        '|',
		Component:    '^',
		Repetition:   '~',
		Escape:       '\\',
		Subcomponent: '&',
	}
}

// delimitersFromMSH reads the separator set from an MSH segment line.
// MSH-1 is the single character directly after "MSH"; MSH-2 holds up to four
// encoding characters. Missing positions keep their standard defaults.
func delimitersFromMSH(line string) Delimiters {
	d := DefaultDelimiters()
	if len(line) < 4 {
		return d
	}
	d.Field = line[3]

	// MSH-2 runs from position 4 up to the next field separator.
	enc := line[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	if len(enc) > 0 {
		d.Component = enc[0]
	}
	if len(enc) > 1 {
		d.Repetition = enc[1]
	}
	if len(enc) > 2 {
		d.Escape = enc[2]
	}
	if len(enc) > 3 {
		d.Subcomponent = enc[3]
	}
	return d
}
