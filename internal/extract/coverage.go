package extract

import (
	"unicode"

	"github.com/joseph-ayodele/order-extractor/constants"
)

// MinTextPageChars is how many printable characters make a PDF page count as text-bearing.
const MinTextPageChars = 40

// PageCoverage is the fraction of pages that carry usable text.
func PageCoverage(doc PDFText) float64 {
	if doc.PageCount() == 0 {
		return 0
	}
	textPages := 0
	for _, p := range doc.Pages {
		if printableChars(p) >= MinTextPageChars {
			textPages++
		}
	}
	return float64(textPages) / float64(doc.PageCount())
}

func printableChars(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsPrint(r) && !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Measurement is the text coverage and page count of a document.
type Measurement struct {
	Coverage float64
	Pages    int
	PDF      *PDFText
}

// Measure computes text coverage for format. Sheets and delimited text are fully textual with no
// page count; images are fully visual and a single page.
func Measure(format string, content []byte) (Measurement, error) {
	switch format {
	case constants.SPREADSHEET, constants.DELIMITED:
		return Measurement{Coverage: 1}, nil
	case constants.IMAGE:
		return Measurement{Coverage: 0, Pages: 1}, nil
	case constants.PDF:
		doc, err := ReadPDFText(content)
		if err != nil {
			return Measurement{}, err
		}
		return Measurement{Coverage: PageCoverage(doc), Pages: doc.PageCount(), PDF: &doc}, nil
	}
	return Measurement{}, nil
}
