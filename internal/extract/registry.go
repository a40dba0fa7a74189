package extract

import (
	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/decision"
)

// AnyFormat registers an extractor for every document format.
const AnyFormat = "*"

type registryKey struct {
	format   string
	strategy decision.Strategy
}

// Registry resolves an extractor from the document MIME type and the chosen strategy.
type Registry struct {
	byKey map[registryKey]Extractor
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[registryKey]Extractor)}
}

// Register binds e to format (a constants format or AnyFormat) and strategy.
func (r *Registry) Register(format string, strategy decision.Strategy, e Extractor) {
	r.byKey[registryKey{format: format, strategy: strategy}] = e
}

// Resolve prefers an exact format binding over an AnyFormat one.
func (r *Registry) Resolve(mimeType string, strategy decision.Strategy) (Extractor, bool) {
	format := constants.MapMIMEToFormat(mimeType)
	if e, ok := r.byKey[registryKey{format: format, strategy: strategy}]; ok && format != "" {
		return e, true
	}
	e, ok := r.byKey[registryKey{format: AnyFormat, strategy: strategy}]
	return e, ok
}

// RegisterRuleBased binds the three deterministic variants.
func (r *Registry) RegisterRuleBased(sheet *SpreadsheetExtractor, delimited *DelimitedExtractor, pdf *TextPDFExtractor) {
	r.Register(constants.SPREADSHEET, decision.RuleBased, sheet)
	r.Register(constants.DELIMITED, decision.RuleBased, delimited)
	r.Register(constants.PDF, decision.RuleBased, pdf)
}
