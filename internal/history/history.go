// Package history assembles the health history report from a profile and
// the full symptom log collection.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/report"
)

const (
	Title      = "Veda Bloom Health History"
	LogHeading = "Symptom & Mood Log"
	EmptyLine  = "No symptoms have been logged."
)

// Report is the ordered report model. Lines holds one entry per log date in
// ascending order, or EmptyLine alone when nothing was logged.
type Report struct {
	Name             string   `json:"name"`
	Age              string   `json:"age"`
	HealthConditions string   `json:"healthConditions"`
	Lines            []string `json:"lines"`
	// Skipped counts log keys that could not be read as dates.
	Skipped int `json:"skipped"`
}

type datedEntry struct {
	date  time.Time
	key   string
	entry domain.SymptomLogEntry
}

// Build produces the report for profile, which may be nil, and entries.
func Build(profile *domain.UserProfile, entries map[string]domain.SymptomLogEntry) Report {
	var p domain.UserProfile
	if profile != nil {
		p = *profile
	}
	out := Report{
		Name:             fallback(p.Name, "User"),
		Age:              fallback(strings.TrimSpace(string(p.Age)), "N/A"),
		HealthConditions: fallback(p.HealthConditions, "None noted"),
	}

	dated := make([]datedEntry, 0, len(entries))
	for key, entry := range entries {
		t, err := domain.ParseDateKey(key)
		if err != nil {
			out.Skipped++
			continue
		}
		dated = append(dated, datedEntry{date: t, key: key, entry: entry})
	}
	sort.Slice(dated, func(i, j int) bool {
		if dated[i].date.Equal(dated[j].date) {
			return dated[i].key < dated[j].key
		}
		return dated[i].date.Before(dated[j].date)
	})

	if len(dated) == 0 {
		out.Lines = []string{EmptyLine}
		return out
	}
	out.Lines = make([]string, 0, len(dated))
	for _, d := range dated {
		out.Lines = append(out.Lines, FormatLine(d.date, d.entry))
	}
	return out
}

// FormatLine renders one log entry. Empty mood or symptoms are left out.
func FormatLine(date time.Time, entry domain.SymptomLogEntry) string {
	var b strings.Builder
	b.WriteString(domain.FormatDate(date))
	b.WriteString(":")
	if entry.Mood != "" {
		fmt.Fprintf(&b, " Mood - %s.", entry.Mood)
	}
	if len(entry.Symptoms) > 0 {
		fmt.Fprintf(&b, " Symptoms - %s.", strings.Join(entry.Symptoms, ", "))
	}
	return b.String()
}

// Blocks lays the report out as renderable content.
func (r Report) Blocks() []report.Block {
	blocks := []report.Block{
		{Style: report.StyleTitle, Text: Title},
		{Style: report.StyleSubtitle, Text: "Report for: " + r.Name},
		{Style: report.StyleBody, Text: "Age: " + r.Age},
		{Style: report.StyleBody, Text: "Health Conditions: " + r.HealthConditions},
		{Style: report.StyleHeading, Text: LogHeading},
	}
	for _, line := range r.Lines {
		blocks = append(blocks, report.Block{Style: report.StyleBody, Text: line})
	}
	return blocks
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// Aggregator fetches a user's profile and logs once and builds the report.
type Aggregator struct {
	profiles domain.ProfileStore
	logs     domain.LogStore
	logger   *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(profiles domain.ProfileStore, logs domain.LogStore, opts ...Option) *Aggregator {
	a := &Aggregator{profiles: profiles, logs: logs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate builds the report for uid. A missing profile is rendered with
// placeholder values.
func (a *Aggregator) Generate(ctx context.Context, uid string) (Report, error) {
	profile, err := a.profiles.GetProfile(ctx, uid)
	if err != nil {
		return Report{}, fmt.Errorf("load profile: %w", err)
	}
	entries, err := a.logs.GetAllLogs(ctx, uid)
	if err != nil {
		return Report{}, fmt.Errorf("load symptom logs: %w", err)
	}

	r := Build(profile, entries)
	if r.Skipped > 0 {
		a.logger.Warn("skipped malformed log keys", zap.String("uid", uid), zap.Int("count", r.Skipped))
	}
	return r, nil
}
