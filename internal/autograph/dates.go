package autograph

import (
	"fmt"
	"strings"
	"time"
)

// apiDateLayout is the provider's date-time format (yyyyMMdd-HHmm).
const apiDateLayout = "20060102-1504"

var inputDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// FormatDate normalizes a caller-supplied date to the provider's format.
// Values already shaped like YYYYMMDD-HHMM are returned unchanged. Anything
// else is reduced to its calendar day: starts map to 00:00, ends to 23:59.
func FormatDate(date string, isStart bool) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return "", fmt.Errorf("date must not be empty")
	}
	if len(date) == 13 && date[8] == '-' {
		if _, err := time.Parse(apiDateLayout, date); err == nil {
			return date, nil
		}
	}

	for _, layout := range inputDateLayouts {
		t, err := time.Parse(layout, date)
		if err != nil {
			continue
		}
		if isStart {
			return t.Format("20060102") + "-0000", nil
		}
		return t.Format("20060102") + "-2359", nil
	}
	return "", fmt.Errorf("unrecognized date %q", date)
}

// ParseAPIDate parses a value produced by FormatDate.
func ParseAPIDate(s string) (time.Time, error) {
	return time.Parse(apiDateLayout, s)
}
