package hl7v2

import (
	"strconv"
	"strings"
	"time"
)

// ParseHL7DateTime parses an HL7 timestamp of the form
// YYYYMMDD[HHMM[SS[.ffff]]][+/-ZZZZ] into an absolute time. It returns nil
// for empty or unparseable input instead of an error: a malformed optional
// timestamp must never abort an otherwise valid message. Timestamps without
// an offset are interpreted as UTC.
func ParseHL7DateTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	loc := time.UTC
	// Trailing +HHMM / -HHMM offset. The sign can only appear after the date
	// digits, so any +/- past position zero is a zone designator.
	if i := strings.LastIndexAny(s, "+-"); i > 0 {
		zone := s[i:]
		s = s[:i]
		if len(zone) != 5 {
			return nil
		}
		hours, err := strconv.Atoi(zone[1:3])
		if err != nil {
			return nil
		}
		mins, err := strconv.Atoi(zone[3:5])
		if err != nil {
			return nil
		}
		offset := (hours*60 + mins) * 60
		if zone[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone(zone, offset)
	}

	// Fractional seconds.
	var nanos int
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		s = s[:i]
		if frac == "" || len(frac) > 9 {
			return nil
		}
		n, err := strconv.Atoi(frac)
		if err != nil {
			return nil
		}
		for j := len(frac); j < 9; j++ {
			n *= 10
		}
		nanos = n
	}

	var layout string
	switch len(s) {
	case 8:
		layout = "20060102"
	case 10:
		layout = "2006010215"
	case 12:
		layout = "200601021504"
	case 14:
		layout = "20060102150405"
	default:
		return nil
	}

	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return nil
	}
	t = t.Add(time.Duration(nanos))
	return &t
}
