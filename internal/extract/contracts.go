// Package extract holds the deterministic extractors: spreadsheet, delimited text and text PDF.
package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// Source is a document together with its content bytes.
type Source struct {
	Document entity.Document
	Content  []byte
	Hints    Hints
}

// Hints are the prompt inputs used by the model-backed variants. Rule-based variants ignore them.
type Hints struct {
	DefaultCurrency    string
	CustomerReferences []string
	// Prior is the rule-based output passed to the model as context, never as a replacement.
	Prior *canonical.Output
	// SourceText is the text already read from the document.
	SourceText  string
	SourceLines int
	PageCount   int
	MaxTokens   int
}

// Metrics is what an extractor reports about the work it did.
type Metrics struct {
	Variant   string
	SheetName string
	Delimiter string
	RowsRead  int
	PagesRead int
	Duration  time.Duration

	Model           string
	LLMCalls        int
	VisionBatches   int
	RepairAttempted bool
	InputTokens     int
	OutputTokens    int
	CostUSD         float64
	FewShotExamples int
}

// Result is the outcome of one extractor. Success with an empty line list is still a success.
type Result struct {
	Success    bool
	Output     *canonical.Output
	Err        error
	Confidence float64
	Metrics    Metrics
	// SourceText is the plain-text rendering of what was read, used by the anchor guard and as
	// prompt context.
	SourceText string
	// SourceLines is how many data rows the source holds.
	SourceLines int
}

// Extractor is the shared contract of every extraction variant.
type Extractor interface {
	Variant() string
	Extract(ctx context.Context, src Source) Result
}
