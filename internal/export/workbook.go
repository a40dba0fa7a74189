// Package export renders extraction runs as an XLSX review workbook.
package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

const (
	runsSheet  = "Runs"
	linesSheet = "Lines"
)

var runHeaders = []string{
	"Document", "Run ID", "Status", "Variant", "Confidence", "Order Number", "Order Date",
	"Currency", "Lines", "Warnings", "Error", "Decision", "Cost (USD)",
}

var lineHeaders = []string{
	"Document", "Line", "Customer SKU", "Description", "Quantity", "Unit", "Unit Price",
	"Currency", "Confidence", "Flags",
}

// Workbook returns the XLSX bytes for runs: one row per run on Runs, one row per order line of
// succeeded runs on Lines.
func Workbook(runs []entity.ExtractionRun, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}
	writeRow(f, runsSheet, 1, toAny(runHeaders))
	writeRow(f, linesSheet, 1, toAny(lineHeaders))

	lineRow := 2
	for i, r := range runs {
		writeRow(f, runsSheet, i+2, runRow(r))
		if r.Output == nil {
			continue
		}
		for _, l := range r.Output.Lines {
			price := ""
			if l.UnitPrice != nil {
				price = l.UnitPrice.String()
			}
			var qty any = ""
			if l.Quantity != nil {
				qty = *l.Quantity
			}
			writeRow(f, linesSheet, lineRow, []any{
				r.DocumentID, l.LineNumber, deref(l.CustomerSKU), deref(l.Description), qty,
				deref(l.Unit), price, deref(l.Currency), l.Confidence, strings.Join(l.Flags, ","),
			})
			lineRow++
		}
	}

	_ = f.SetColWidth(runsSheet, "A", "A", 32)
	_ = f.SetColWidth(runsSheet, "B", "B", 38)
	_ = f.SetColWidth(runsSheet, "J", "K", 40)
	_ = f.SetColWidth(linesSheet, "A", "A", 32)
	_ = f.SetColWidth(linesSheet, "C", "D", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.ok",
		"runs", len(runs),
		"lines", lineRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func runRow(r entity.ExtractionRun) []any {
	row := []any{r.DocumentID, r.ID.String(), string(r.Status), r.Variant, r.Confidence()}
	if r.Output != nil {
		o := r.Output.Order
		row = append(row, deref(o.OrderNumber), deref(o.OrderDate), deref(o.Currency),
			len(r.Output.Lines), strings.Join(r.Output.Warnings, ","))
	} else {
		row = append(row, "", "", "", 0, "")
	}
	errText := ""
	if r.Error != nil {
		errText = truncate(r.Error.Code+": "+r.Error.Message, 140)
	}
	return append(row, errText, r.Metrics.DecisionReason, r.Metrics.CostUSD)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
