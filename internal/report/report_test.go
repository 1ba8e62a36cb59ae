package report

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func header() []Block {
	return []Block{
		{Style: StyleTitle, Text: "Veda Bloom Health History"},
		{Style: StyleSubtitle, Text: "Report for: User"},
		{Style: StyleBody, Text: "Age: N/A"},
		{Style: StyleBody, Text: "Health Conditions: None noted"},
		{Style: StyleHeading, Text: "Symptom & Mood Log"},
	}
}

func withLines(n int) []Block {
	blocks := header()
	for i := 0; i < n; i++ {
		blocks = append(blocks, Block{Style: StyleBody, Text: fmt.Sprintf("line %d", i)})
	}
	return blocks
}

func positions(page Page) []float64 {
	out := make([]float64, 0, len(page))
	for _, p := range page {
		out = append(out, p.Y)
	}
	return out
}

func TestPaginateHeaderPositions(t *testing.T) {
	pages := Paginate(withLines(1), DefaultLayout)
	require.Len(t, pages, 1)
	require.Equal(t, []float64{20, 40, 50, 60, 80, 90}, positions(pages[0]))
}

func TestPaginateBreaksPastBottom(t *testing.T) {
	// Log lines start at 90; the last one that fits sits at 270.
	pages := Paginate(withLines(19), DefaultLayout)
	require.Len(t, pages, 1)

	pages = Paginate(withLines(20), DefaultLayout)
	require.Len(t, pages, 2)
	require.Len(t, pages[1], 1)
	require.Equal(t, "line 19", pages[1][0].Text)
	require.Equal(t, 20.0, pages[1][0].Y)
}

func TestPaginateFullSecondPage(t *testing.T) {
	// A continuation page holds lines at 20, 30, ... 270.
	pages := Paginate(withLines(19+26+1), DefaultLayout)
	require.Len(t, pages, 3)
	require.Len(t, pages[1], 26)
	require.Equal(t, 270.0, pages[1][25].Y)
}

func TestPaginateEmpty(t *testing.T) {
	require.Nil(t, Paginate(nil, DefaultLayout))
}

func TestPDFRendererWritesDocument(t *testing.T) {
	r := NewPDFRenderer("Veda Bloom Health History")
	r.Now = func() time.Time { return time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	pages, err := r.Render(&buf, withLines(25))
	require.NoError(t, err)
	require.Equal(t, 2, pages)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestPDFRendererRejectsEmptyReport(t *testing.T) {
	_, err := NewPDFRenderer("").Render(&bytes.Buffer{}, nil)
	require.Error(t, err)
}

func TestStyleMarshalText(t *testing.T) {
	text, err := StyleHeading.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "heading", string(text))
}
