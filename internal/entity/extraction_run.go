package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

// ErrRunTerminal is returned when a transition is attempted on a finished run.
var ErrRunTerminal = errors.New("extraction run is terminal")

// RunError is the error payload of a failed run.
type RunError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// RunMetrics is the runtime and cost record of one run.
type RunMetrics struct {
	Variant         string  `json:"variant"`
	DecisionReason  string  `json:"decision_reason,omitempty"`
	DurationMS      int64   `json:"duration_ms"`
	RuleDurationMS  int64   `json:"rule_duration_ms,omitempty"`
	LLMDurationMS   int64   `json:"llm_duration_ms,omitempty"`
	SheetName       string  `json:"sheet_name,omitempty"`
	Delimiter       string  `json:"delimiter,omitempty"`
	RowsRead        int     `json:"rows_read,omitempty"`
	PagesRead       int     `json:"pages_read,omitempty"`
	TextCoverage    float64 `json:"text_coverage"`
	RuleConfidence  float64 `json:"rule_confidence,omitempty"`
	LLMCalls        int     `json:"llm_calls,omitempty"`
	VisionBatches   int     `json:"vision_batches,omitempty"`
	RepairAttempted bool    `json:"repair_attempted,omitempty"`
	InputTokens     int     `json:"input_tokens,omitempty"`
	OutputTokens    int     `json:"output_tokens,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`
	Model           string  `json:"model,omitempty"`
	CacheHit        bool    `json:"cache_hit,omitempty"`
	FewShotExamples int     `json:"few_shot_examples,omitempty"`
}

// ExtractionRun is one attempt to extract a Document. Values are never mutated in place: every
// transition returns a new run, and terminal runs refuse further transitions.
type ExtractionRun struct {
	ID         uuid.UUID           `json:"id"`
	DocumentID string              `json:"document_id"`
	TenantID   string              `json:"tenant_id"`
	Variant    string              `json:"variant"`
	Status     constants.RunStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Output     *canonical.Output   `json:"output,omitempty"`
	Metrics    RunMetrics          `json:"metrics"`
	Error      *RunError           `json:"error,omitempty"`
	// LayoutFingerprint is the structural hash the run computed for the document, empty when the
	// run ended before the document was read or no text was recovered.
	LayoutFingerprint string `json:"layout_fingerprint,omitempty"`
	// PipelineVersion identifies the extractor code and prompt set that produced the run.
	PipelineVersion string `json:"pipeline_version"`
}

// NewRun creates a pending run for doc.
func NewRun(doc Document, now time.Time) ExtractionRun {
	return ExtractionRun{
		ID:              uuid.New(),
		DocumentID:      doc.ID,
		TenantID:        doc.TenantID,
		Variant:         constants.VariantNone,
		Status:          constants.RunStatusPending,
		CreatedAt:       now.UTC(),
		PipelineVersion: constants.PipelineVersion,
	}
}

// Start moves a pending run to running.
func (r ExtractionRun) Start(now time.Time) (ExtractionRun, error) {
	if r.Status != constants.RunStatusPending {
		return r, fmt.Errorf("start run %s in status %s: %w", r.ID, r.Status, transitionErr(r))
	}
	t := now.UTC()
	r.Status = constants.RunStatusRunning
	r.StartedAt = &t
	return r, nil
}

// Succeed terminates the run with output. The output is deep-copied.
func (r ExtractionRun) Succeed(now time.Time, variant string, out *canonical.Output, m RunMetrics) (ExtractionRun, error) {
	if r.Status.IsTerminal() {
		return r, fmt.Errorf("succeed run %s: %w", r.ID, ErrRunTerminal)
	}
	if out == nil {
		out = canonical.New()
	}
	t := now.UTC()
	r.Status = constants.RunStatusSucceeded
	r.FinishedAt = &t
	r.Variant = variant
	r.Output = out.Clone()
	r.Metrics = m
	r.Metrics.Variant = variant
	r.Error = nil
	return r, nil
}

// Fail terminates the run with an error payload.
func (r ExtractionRun) Fail(now time.Time, variant string, runErr RunError, m RunMetrics) (ExtractionRun, error) {
	if r.Status.IsTerminal() {
		return r, fmt.Errorf("fail run %s: %w", r.ID, ErrRunTerminal)
	}
	t := now.UTC()
	r.Status = constants.RunStatusFailed
	r.FinishedAt = &t
	r.Variant = variant
	r.Output = nil
	r.Metrics = m
	r.Metrics.Variant = variant
	r.Error = &runErr
	return r, nil
}

// Confidence is the overall output confidence, 0 for failed runs.
func (r ExtractionRun) Confidence() float64 {
	if r.Output == nil {
		return 0
	}
	return r.Output.Confidence.Overall
}

func transitionErr(r ExtractionRun) error {
	if r.Status.IsTerminal() {
		return ErrRunTerminal
	}
	return errors.New("invalid transition")
}
