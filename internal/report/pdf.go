package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	pageWidth   = 210.0
	leftMargin  = 20.0
	fontFamily  = "Helvetica"
	titleSize   = 20
	sectionSize = 14
	bodySize    = 12
)

// PDFRenderer writes paginated blocks as an A4 PDF document.
type PDFRenderer struct {
	Layout Layout
	Title  string
	// Now stamps the document creation date. Defaults to time.Now.
	Now func() time.Time
}

// NewPDFRenderer returns a renderer using DefaultLayout.
func NewPDFRenderer(title string) *PDFRenderer {
	return &PDFRenderer{Layout: DefaultLayout, Title: title, Now: time.Now}
}

// Render paginates blocks and writes the PDF to w. It returns the number of pages written.
func (r *PDFRenderer) Render(w io.Writer, blocks []Block) (int, error) {
	pages := Paginate(blocks, r.Layout)
	if len(pages) == 0 {
		return 0, fmt.Errorf("render report: no content")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	if r.Title != "" {
		pdf.SetTitle(r.Title, true)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	pdf.SetCreationDate(now())
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, page := range pages {
		pdf.AddPage()
		for _, item := range page {
			text := tr(item.Text)
			switch item.Style {
			case StyleTitle:
				pdf.SetFont(fontFamily, "B", titleSize)
				pdf.Text((pageWidth-pdf.GetStringWidth(text))/2, item.Y, text)
			case StyleSubtitle, StyleHeading:
				pdf.SetFont(fontFamily, "B", sectionSize)
				pdf.Text(leftMargin, item.Y, text)
			default:
				pdf.SetFont(fontFamily, "", bodySize)
				pdf.Text(leftMargin, item.Y, text)
			}
		}
	}

	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("render report: %w", err)
	}
	return len(pages), nil
}
