package extract

import (
	"strings"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

// HeaderSearchRows bounds header detection in spreadsheets and delimited text.
const HeaderSearchRows = 10

var totalKeywords = map[string]bool{
	"total": true, "subtotal": true, "sub total": true, "grand total": true, "summe": true, "gesamt": true,
	"gesamtsumme": true, "zwischensumme": true, "sous total": true, "total ht": true, "total ttc": true,
	"totale": true, "importe total": true,
}

type tableOptions struct {
	// searchRows limits header detection; zero searches every row.
	searchRows int
	// continuation folds single-cell rows into the previous line's description (PDF tables).
	continuation bool
}

type table struct {
	out       *canonical.Output
	headerRow int
	dataRows  int
	defaulted bool
	text      string
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func nonEmptyCells(row []string) int {
	n := 0
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// detectHeader returns the first row mapping at least two canonical fields.
func detectHeader(rows [][]string, searchRows int) (int, map[int]Field, bool) {
	limit := len(rows)
	if searchRows > 0 && searchRows < limit {
		limit = searchRows
	}
	for i := 0; i < limit; i++ {
		cols := mapColumns(rows[i])
		if len(cols) >= 2 {
			return i, cols, true
		}
	}
	if len(rows) == 0 {
		return 0, map[int]Field{}, false
	}
	return 0, mapColumns(rows[0]), false
}

func isTotalRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) == "" {
			continue
		}
		return totalKeywords[normalizeHeader(c)]
	}
	return false
}

// buildTable turns raw rows into a canonical output. Row 0 is used as the header when no row
// matches the vocabulary.
func buildTable(rows [][]string, opts tableOptions) table {
	t := table{out: canonical.New(), text: renderRows(rows)}
	if len(rows) == 0 {
		return t
	}

	headerRow, cols, found := detectHeader(rows, opts.searchRows)
	t.headerRow = headerRow
	t.defaulted = !found
	if !found {
		t.out.AddWarning(constants.WarnHeaderRowDefaulted)
	}

	t.out.Order = parseHeader(renderRows(rows[:headerRow]))

	for _, row := range rows[headerRow+1:] {
		if isBlankRow(row) {
			continue
		}
		if isTotalRow(row) {
			continue
		}
		if opts.continuation && nonEmptyCells(row) == 1 && len(t.out.Lines) > 0 {
			prev := &t.out.Lines[len(t.out.Lines)-1]
			extra := strings.TrimSpace(strings.Join(row, " "))
			if prev.Description == nil {
				prev.Description = canonical.Str(extra)
			} else {
				prev.Description = canonical.Str(*prev.Description + " " + extra)
			}
			continue
		}
		t.dataRows++
		t.out.Lines = append(t.out.Lines, rowToLine(row, cols))
	}

	if t.out.Order.Currency == nil {
		t.out.Order.Currency = commonLineCurrency(t.out.Lines)
	}
	return t
}

func rowToLine(row []string, cols map[int]Field) canonical.Line {
	var line canonical.Line
	for i, field := range cols {
		if i >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		switch field {
		case FieldSKU:
			line.CustomerSKU = canonical.Str(cell)
		case FieldDescription:
			line.Description = canonical.Str(cell)
		case FieldQuantity:
			if q, ok := canonical.ParseQuantity(cell); ok {
				line.Quantity = &q
			}
		case FieldUnit:
			line.Unit = canonical.Str(cell)
		case FieldUnitPrice:
			if p, ok := canonical.ParseDecimal(cell); ok {
				line.UnitPrice = &p
			}
			if line.Currency == nil {
				line.Currency = detectCurrency(cell)
			}
		case FieldCurrency:
			line.Currency = canonical.Str(cell)
		}
	}
	return line
}

func commonLineCurrency(lines []canonical.Line) *string {
	var cur *string
	for _, l := range lines {
		if l.Currency == nil {
			continue
		}
		if cur != nil && !strings.EqualFold(*cur, *l.Currency) {
			return nil
		}
		cur = l.Currency
	}
	if cur == nil {
		return nil
	}
	return canonical.Str(*cur)
}

// renderRows is the plain-text view of a table used for anchors and prompt context.
func renderRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}
