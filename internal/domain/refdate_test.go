package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLastPeriodDatePicksMostRecentKey(t *testing.T) {
	logs := map[string]SymptomLogEntry{
		"2024-01-10": {Mood: "ok", Symptoms: []string{"cramps"}},
		"2024-02-05": {Mood: "low", Symptoms: []string{}},
	}

	got := LastPeriodDate(logs, time.Now())
	require.Equal(t, "2024-02-05", FormatDate(got))
}

func TestLastPeriodDateEmptyDefaultsToToday(t *testing.T) {
	now := time.Now()
	got := LastPeriodDate(map[string]SymptomLogEntry{}, now)
	require.Equal(t, now.Format(DateLayout), FormatDate(got))

	got = LastPeriodDate(nil, now)
	require.Equal(t, now.Format(DateLayout), FormatDate(got))
}

func TestLastPeriodDateIgnoresMalformedKeys(t *testing.T) {
	logs := map[string]SymptomLogEntry{
		"2023-12-31":  {},
		"not-a-date":  {},
		"2024-13-40":  {},
		"9999-99-99x": {},
	}
	got := LastPeriodDate(logs, time.Now())
	require.Equal(t, "2023-12-31", FormatDate(got))
}

func TestLastPeriodDateOnlyMalformedFallsBackToNow(t *testing.T) {
	now := time.Date(2025, time.March, 3, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	got := LastPeriodDate(map[string]SymptomLogEntry{"garbage": {}}, now)
	require.Equal(t, "2025-03-03", FormatDate(got))
}

func TestLastPeriodDateAcceptsLegacyKeys(t *testing.T) {
	logs := map[string]SymptomLogEntry{
		"Mon Feb 05 2024": {},
		"2024-01-31":      {},
	}
	got := LastPeriodDate(logs, time.Now())
	require.Equal(t, "2024-02-05", FormatDate(got))
}

func TestParseDateKeyRoundTripsWithoutZoneDrift(t *testing.T) {
	zones := []*time.Location{
		time.UTC,
		time.FixedZone("UTC+14", 14*3600),
		time.FixedZone("UTC-12", -12*3600),
	}
	for _, loc := range zones {
		now := time.Date(2024, time.February, 29, 23, 59, 0, 0, loc)
		ref := LastPeriodDate(nil, now)
		wire := FormatDate(ref)
		require.Equal(t, "2024-02-29", wire)

		parsed, err := ParseDateKey(wire)
		require.NoError(t, err)
		require.True(t, parsed.Equal(ref), "zone %s", loc)
	}
}

func TestParseDateKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "2024-02-30", "02/05/2024", "yesterday"} {
		_, err := ParseDateKey(key)
		require.True(t, errors.Is(err, ErrMalformedLogKey), "key %q", key)
	}
}
