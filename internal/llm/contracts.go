// Package llm is the model-backed extraction adapter: a narrow provider port, prompt builders,
// response cleanup and the text and vision extractors with their single repair round-trip.
package llm

import (
	"context"
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// Mode selects the prompt template and provider call.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVision Mode = "vision"
)

// Image is one rasterised page handed to a vision call.
type Image struct {
	Page     int
	MIMEType string
	Data     []byte
}

// Example is a few-shot input/output pair.
type Example struct {
	Input  string
	Output string
}

// Prompt is a single structured-JSON request.
type Prompt struct {
	System   string
	User     string
	Examples []Example
	Images   []Image
	// MaxTokens is the output token ceiling for the call.
	MaxTokens int
}

// Completion is the raw provider answer plus accounting.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Latency      time.Duration
}

// Provider is the language-model port. Implementations return *common.AppError values carrying
// the TIMEOUT, RATE_LIMITED, AUTH_INVALID or PROVIDER_UNAVAILABLE codes.
type Provider interface {
	CompleteText(ctx context.Context, p Prompt) (Completion, error)
	CompleteVision(ctx context.Context, p Prompt) (Completion, error)
}

// FeedbackStore is the read-only correction lookup.
type FeedbackStore interface {
	RecentByFingerprint(ctx context.Context, tenantID, fingerprint string, limit int) ([]entity.FeedbackExample, error)
}

// PageSource produces page images for vision extraction.
type PageSource interface {
	Pages(ctx context.Context, doc entity.Document, content []byte) ([]Image, error)
}

// Observer receives call and repair outcomes, typically for metrics.
type Observer interface {
	LLMCall(mode Mode, outcome string)
	Repair(outcome string)
}

type nopObserver struct{}

func (nopObserver) LLMCall(Mode, string) {}
func (nopObserver) Repair(string)        {}
