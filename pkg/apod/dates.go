package apod

import (
	"fmt"
	"time"
)

// FirstDate is the first day with an APOD entry.
var FirstDate = time.Date(1995, time.June, 16, 0, 0, 0, 0, time.UTC)

// ParseDate parses a YYYY-MM-DD date and checks it is between FirstDate and
// today. An empty string means today.
func ParseDate(s string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if s == "" {
		return today, nil
	}

	date, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	if date.Before(FirstDate) {
		return time.Time{}, fmt.Errorf("date %s is before the first APOD (%s)", s, FirstDate.Format(DateLayout))
	}
	if date.After(today) {
		return time.Time{}, fmt.Errorf("date %s is in the future", s)
	}
	return date, nil
}
