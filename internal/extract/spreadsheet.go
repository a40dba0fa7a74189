package extract

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
)

// SpreadsheetExtractor reads the first sheet of an xlsx workbook.
type SpreadsheetExtractor struct {
	logger   *slog.Logger
	maxLines int
}

func NewSpreadsheetExtractor(logger *slog.Logger, maxLines int) *SpreadsheetExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpreadsheetExtractor{logger: logger, maxLines: maxLines}
}

func (e *SpreadsheetExtractor) Variant() string { return constants.VariantSpreadsheet }

func (e *SpreadsheetExtractor) Extract(ctx context.Context, src Source) Result {
	start := time.Now()
	m := Metrics{Variant: e.Variant()}

	f, err := excelize.OpenReader(bytes.NewReader(src.Content))
	if err != nil {
		return failed(common.NewAppError(common.CodeUnsupportedDocument, "spreadsheet could not be opened", err), m, start)
	}
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("extract.spreadsheet.close_failed", "document_id", src.Document.ID, "error", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return failed(common.NewAppError(common.CodeUnsupportedDocument, "workbook has no sheets", nil), m, start)
	}
	m.SheetName = sheets[0]

	rows, err := f.GetRows(m.SheetName)
	if err != nil {
		return failed(common.NewAppError(common.CodeUnsupportedDocument, "sheet could not be read", err), m, start)
	}

	t := buildTable(rows, tableOptions{searchRows: HeaderSearchRows})
	res := finish(t, m, start, e.maxLines)
	e.logger.Debug("extract.spreadsheet.done",
		"document_id", src.Document.ID,
		"sheet", m.SheetName,
		"sheets_total", len(sheets),
		"header_row", t.headerRow,
		"lines", len(res.Output.Lines),
		"confidence", res.Confidence,
	)
	return res
}
