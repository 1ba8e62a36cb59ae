// Package report lays out and renders the downloadable health history.
package report

// Filename is the attachment name used for the PDF download.
const Filename = "VedaBloom_Health_History.pdf"

// Style selects the typography of a block.
type Style int

const (
	StyleTitle Style = iota
	StyleSubtitle
	StyleHeading
	StyleBody
)

func (s Style) String() string {
	switch s {
	case StyleTitle:
		return "title"
	case StyleSubtitle:
		return "subtitle"
	case StyleHeading:
		return "heading"
	default:
		return "body"
	}
}

// MarshalText renders the style name in JSON payloads.
func (s Style) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Block is one line of report content.
type Block struct {
	Style Style  `json:"style"`
	Text  string `json:"text"`
}

// Layout describes the vertical extent of a page, in page units.
type Layout struct {
	// Top is where the first block on a page is placed.
	Top float64
	// Bottom is the last position a block may start at before a new page begins.
	Bottom float64
	// LineHeight separates consecutive body lines.
	LineHeight float64
	// SectionGap precedes subtitles and headings.
	SectionGap float64
}

// DefaultLayout matches an A4 portrait page in millimetres.
var DefaultLayout = Layout{Top: 20, Bottom: 270, LineHeight: 10, SectionGap: 20}

// Placed is a block positioned on a page.
type Placed struct {
	Block
	Y float64
}

// Page is the ordered content of one page.
type Page []Placed

// Paginate assigns vertical positions to blocks and starts a new page whenever
// the next position would pass the layout's bottom.
func Paginate(blocks []Block, layout Layout) []Page {
	if len(blocks) == 0 {
		return nil
	}

	pages := []Page{nil}
	y := layout.Top
	for i, block := range blocks {
		if i > 0 {
			y += layout.advance(block.Style)
		}
		if y > layout.Bottom && len(pages[len(pages)-1]) > 0 {
			pages = append(pages, nil)
			y = layout.Top
		}
		pages[len(pages)-1] = append(pages[len(pages)-1], Placed{Block: block, Y: y})
	}
	return pages
}

func (l Layout) advance(style Style) float64 {
	switch style {
	case StyleSubtitle, StyleHeading:
		return l.SectionGap
	default:
		return l.LineHeight
	}
}
