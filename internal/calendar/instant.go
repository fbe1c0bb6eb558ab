package calendar

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseInstant parses a calendar date-time or date-only value.
//
// Values carrying a zone ("Z" or an offset) keep it. Naive date-times and
// bare dates are interpreted in loc (UTC if nil); a bare date means midnight.
// The second result is false when raw matches none of the accepted layouts.
func ParseInstant(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(s) == len(dateLayout) {
		if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsDateOnly reports whether raw is a bare date without a time part.
func IsDateOnly(raw string) bool {
	s := strings.TrimSpace(raw)
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
