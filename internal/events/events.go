// Package events defines the change events published for downstream consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeProfileReplaced  = "profile.replaced"
	TypeSymptomLogMerged = "symptom_log.merged"

	TopicProfiles    = "vedabloom.profiles"
	TopicSymptomLogs = "vedabloom.symptom_logs"

	AggregateProfile    = "profile"
	AggregateSymptomLog = "symptom_log"

	Version = "1"
)

// ProfileReplaced is emitted whenever a profile document is written. It
// carries the derived values consumers need, not the free-text fields.
type ProfileReplaced struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Cohort      string    `json:"cohort"`
	CycleLength *int      `json:"cycle_length,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Version     string    `json:"version"`
}

// SymptomLogMerged is emitted for every merge-write to a log entry.
type SymptomLogMerged struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Date       string    `json:"date"`
	Fields     []string  `json:"fields"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// NewProfileReplaced builds a ProfileReplaced with a fresh event id.
func NewProfileReplaced(uid, cohort string, cycleLength *int, at time.Time) ProfileReplaced {
	return ProfileReplaced{
		EventID:     uuid.NewString(),
		UserID:      uid,
		Cohort:      cohort,
		CycleLength: cycleLength,
		OccurredAt:  at.UTC(),
		Version:     Version,
	}
}

// NewSymptomLogMerged builds a SymptomLogMerged with a fresh event id.
func NewSymptomLogMerged(uid, date string, fields []string, at time.Time) SymptomLogMerged {
	return SymptomLogMerged{
		EventID:    uuid.NewString(),
		UserID:     uid,
		Date:       date,
		Fields:     fields,
		OccurredAt: at.UTC(),
		Version:    Version,
	}
}
