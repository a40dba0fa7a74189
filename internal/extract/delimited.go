package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DelimitedExtractor reads CSV-style text with comma, semicolon or tab separators.
type DelimitedExtractor struct {
	logger   *slog.Logger
	maxLines int
}

func NewDelimitedExtractor(logger *slog.Logger, maxLines int) *DelimitedExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelimitedExtractor{logger: logger, maxLines: maxLines}
}

func (e *DelimitedExtractor) Variant() string { return constants.VariantDelimited }

func (e *DelimitedExtractor) Extract(ctx context.Context, src Source) Result {
	start := time.Now()
	m := Metrics{Variant: e.Variant()}

	content, err := decodeText(src.Content)
	if err != nil {
		return failed(common.NewAppError(common.CodeUnsupportedDocument, "text could not be decoded", err), m, start)
	}
	delim := detectDelimiter(content)
	m.Delimiter = string(delim)

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return failed(common.NewAppError(common.CodeUnsupportedDocument, "delimited text could not be parsed", err), m, start)
		}
		rows = append(rows, rec)
	}

	t := buildTable(rows, tableOptions{searchRows: HeaderSearchRows})
	res := finish(t, m, start, e.maxLines)
	e.logger.Debug("extract.delimited.done",
		"document_id", src.Document.ID,
		"delimiter", m.Delimiter,
		"header_row", t.headerRow,
		"lines", len(res.Output.Lines),
		"confidence", res.Confidence,
	)
	return res
}

// decodeText strips a UTF-8 BOM and falls back to Windows-1252 for non-UTF-8 input.
func decodeText(b []byte) ([]byte, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return b, nil
	}
	return charmap.Windows1252.NewDecoder().Bytes(b)
}

// detectDelimiter counts candidate separators outside quotes on the first line.
func detectDelimiter(content []byte) rune {
	counts := map[rune]int{}
	inQuotes := false
	for _, r := range string(firstLine(content)) {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (r == ';' || r == ',' || r == '\t'):
			counts[r]++
		}
	}
	best := ','
	for _, c := range []rune{';', '\t'} {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		return b[:i]
	}
	return b
}
