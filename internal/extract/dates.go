package extract

import (
	"fmt"
	"strings"
	"time"
)

// ParseDate parses the date formats seen in upstream resources: plain dates
// ("2023-01-15") and timestamps with optional fractional seconds and zone
// suffix ("2023-01-15T10:30:00.123Z").
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if strings.Contains(value, "T") {
		// Drop fractional seconds and zone suffix before parsing
		value = strings.SplitN(value, ".", 2)[0]
		value = strings.TrimSuffix(value, "Z")
		if len(value) > 11 {
			if idx := strings.IndexAny(value[11:], "+-"); idx >= 0 {
				value = value[:11+idx]
			}
		}
		t, err := time.Parse("2006-01-02T15:04:05", value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
		}
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// DatePortion strips the time component of a timestamp string, returning
// just the calendar date part.
func DatePortion(value string) string {
	return strings.SplitN(value, "T", 2)[0]
}

// DaysBetween returns the signed number of calendar days from b to a,
// ignoring the time-of-day component of both values.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(da.Sub(db).Hours() / 24)
}
