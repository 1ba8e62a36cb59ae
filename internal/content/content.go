// Package content serves the age-personalized FAQ entries.
package content

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"example.com/vedabloom/internal/domain"
)

// FAQ is a single question and answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Document maps cohort names to their ordered entries.
type Document map[domain.Cohort][]FAQ

// Source returns the full content document.
type Source interface {
	Fetch(ctx context.Context) (Document, error)
}

// Select returns the entries for cohort, falling back to the general cohort
// when the document has no entries for it. It reports false when neither
// section has any.
func Select(doc Document, cohort domain.Cohort) ([]FAQ, bool) {
	if entries := doc[cohort]; len(entries) > 0 {
		return entries, true
	}
	entries := doc[domain.CohortGeneral]
	return entries, len(entries) > 0
}

// Decode parses a content document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", domain.ErrContentSourceUnavailable, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", domain.ErrContentSourceUnavailable)
	}
	return doc, nil
}

//go:embed faqs.json
var defaultDocument []byte

// StaticSource serves a fixed document.
type StaticSource struct {
	Doc Document
}

// DefaultSource serves the FAQ document bundled with the binary.
func DefaultSource() (*StaticSource, error) {
	doc, err := Decode(defaultDocument)
	if err != nil {
		return nil, err
	}
	return &StaticSource{Doc: doc}, nil
}

// Fetch implements Source.
func (s *StaticSource) Fetch(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Doc, nil
}
