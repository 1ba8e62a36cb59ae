package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format shared with the prediction service.
const DateLayout = "2006-01-02"

// legacyKeyLayout matches keys written by the calendar widget (Date.toDateString).
const legacyKeyLayout = "Mon Jan 02 2006"

// CivilDate drops the clock and zone from t, keeping the calendar date as
// seen in t's location. The result is midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDateKey parses a log key into a civil date.
func ParseDateKey(key string) (time.Time, error) {
	for _, layout := range []string{DateLayout, legacyKeyLayout} {
		if t, err := time.Parse(layout, key); err == nil {
			return CivilDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedLogKey, key)
}

// FormatDate renders a civil date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// LastPeriodDate returns the most recent date among the log keys. Keys that
// do not parse are never selected. With no usable key it falls back to the
// calendar date of now.
func LastPeriodDate(entries map[string]SymptomLogEntry, now time.Time) time.Time {
	var (
		latest time.Time
		found  bool
	)
	for key := range entries {
		t, err := ParseDateKey(key)
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return CivilDate(now)
	}
	return latest
}
