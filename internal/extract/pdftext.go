package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/order-extractor/constants"
)

// ErrCoverageTooLow is returned by the text-PDF extractor for image-only documents.
var ErrCoverageTooLow = errors.New("text coverage below the text-PDF threshold")

// PDFText is the per-page text of a PDF.
type PDFText struct {
	Pages []string
}

func (p PDFText) PageCount() int { return len(p.Pages) }

func (p PDFText) Text() string { return strings.Join(p.Pages, "\n\f\n") }

// ReadPDFText parses a PDF with pdfcpu and renders every page content stream as text.
func ReadPDFText(content []byte) (PDFText, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(content), conf)
	if err != nil {
		return PDFText{}, fmt.Errorf("pdfcpu read: %w", err)
	}
	pages := make([]string, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		pages[pageNr-1] = pdfPageText(data)
	}
	return PDFText{Pages: pages}, nil
}

var reCellGap = regexp.MustCompile(`\s{2,}|\t`)

// TextPDFExtractor walks the rows of tables found in text-bearing PDFs.
type TextPDFExtractor struct {
	logger      *slog.Logger
	maxLines    int
	minCoverage float64
}

func NewTextPDFExtractor(logger *slog.Logger, maxLines int, minCoverage float64) *TextPDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if minCoverage <= 0 {
		minCoverage = constants.TextPDFMinCoverage
	}
	return &TextPDFExtractor{logger: logger, maxLines: maxLines, minCoverage: minCoverage}
}

func (e *TextPDFExtractor) Variant() string { return constants.VariantTextPDF }

func (e *TextPDFExtractor) Extract(ctx context.Context, src Source) Result {
	start := time.Now()
	m := Metrics{Variant: e.Variant()}

	if cov := src.Document.TextCoverage; cov != nil && *cov < e.minCoverage {
		return failed(ErrCoverageTooLow, m, start)
	}

	doc, err := ReadPDFText(src.Content)
	if err != nil {
		return failed(err, m, start)
	}
	m.PagesRead = doc.PageCount()
	if PageCoverage(doc) < e.minCoverage {
		return failed(ErrCoverageTooLow, m, start)
	}

	var rows [][]string
	for _, page := range doc.Pages {
		for _, line := range strings.Split(page, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			rows = append(rows, reCellGap.Split(strings.TrimSpace(line), -1))
		}
	}

	t := buildTable(rows, tableOptions{continuation: true})
	t.text = doc.Text()
	// Header fields in PDFs often sit beside or below the table.
	mergeHeader(&t.out.Order, parseHeader(t.text))

	res := finish(t, m, start, e.maxLines)
	e.logger.Debug("extract.pdf_text.done",
		"document_id", src.Document.ID,
		"pages", m.PagesRead,
		"header_row", t.headerRow,
		"lines", len(res.Output.Lines),
		"confidence", res.Confidence,
	)
	return res
}
