package domain

// SymptomLogEntry is the document stored under a calendar-date key.
type SymptomLogEntry struct {
	Mood     string   `json:"mood,omitempty"`
	Symptoms []string `json:"symptoms"`
}

// LogPatch is a partial entry for merge-writes. Nil fields are left untouched.
type LogPatch struct {
	Mood     *string   `json:"mood,omitempty"`
	Symptoms *[]string `json:"symptoms,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p LogPatch) Empty() bool {
	return p.Mood == nil && p.Symptoms == nil
}

// Apply merges the patch into entry and returns the result.
func (p LogPatch) Apply(entry SymptomLogEntry) SymptomLogEntry {
	if p.Mood != nil {
		entry.Mood = *p.Mood
	}
	if p.Symptoms != nil {
		entry.Symptoms = append([]string(nil), (*p.Symptoms)...)
	}
	return entry
}

// LogSnapshot is a full materialization of one user's log collection.
type LogSnapshot struct {
	UID     string
	Entries map[string]SymptomLogEntry
}

// CloneEntries deep-copies a log collection so listeners cannot share
// mutable state with the store.
func CloneEntries(in map[string]SymptomLogEntry) map[string]SymptomLogEntry {
	out := make(map[string]SymptomLogEntry, len(in))
	for key, entry := range in {
		out[key] = SymptomLogEntry{
			Mood:     entry.Mood,
			Symptoms: append([]string(nil), entry.Symptoms...),
		}
	}
	return out
}
