package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/confidence"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/extract"
)

// Call and repair outcomes reported to the Observer.
const (
	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// AdapterConfig tunes the model-backed extractors.
type AdapterConfig struct {
	// Timeout bounds each provider call. Defaults to 60s.
	Timeout         time.Duration
	MaxOutputTokens int
	// VisionTokensPerCall is the token budget per vision batch; pages per batch is this divided
	// by constants.VisionTokensPerPage.
	VisionTokensPerCall int
	MaxLines            int
	SourceCharLimit     int
	FewShotExamples     int
}

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 4096
	}
	if c.VisionTokensPerCall <= 0 {
		c.VisionTokensPerCall = constants.DefaultVisionTokensPerBatch
	}
	if c.MaxLines <= 0 {
		c.MaxLines = constants.DefaultMaxLines
	}
	if c.FewShotExamples <= 0 {
		c.FewShotExamples = constants.DefaultFewShotExamples
	}
	return c
}

// Adapter implements extract.Extractor on top of a Provider, in text or vision mode.
type Adapter struct {
	mode     Mode
	provider Provider
	feedback FeedbackStore
	pages    PageSource
	observer Observer
	cfg      AdapterConfig
	logger   *slog.Logger
}

// NewTextAdapter builds the llm-text variant. feedback may be nil.
func NewTextAdapter(logger *slog.Logger, p Provider, feedback FeedbackStore, cfg AdapterConfig) *Adapter {
	return newAdapter(ModeText, logger, p, feedback, nil, cfg)
}

// NewVisionAdapter builds the llm-vision variant.
func NewVisionAdapter(logger *slog.Logger, p Provider, feedback FeedbackStore, pages PageSource, cfg AdapterConfig) *Adapter {
	return newAdapter(ModeVision, logger, p, feedback, pages, cfg)
}

func newAdapter(mode Mode, logger *slog.Logger, p Provider, feedback FeedbackStore, pages PageSource, cfg AdapterConfig) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		mode:     mode,
		provider: p,
		feedback: feedback,
		pages:    pages,
		observer: nopObserver{},
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// WithObserver attaches an outcome observer.
func (a *Adapter) WithObserver(o Observer) *Adapter {
	if o != nil {
		a.observer = o
	}
	return a
}

func (a *Adapter) Variant() string {
	if a.mode == ModeVision {
		return constants.VariantLLMVision
	}
	return constants.VariantLLMText
}

// PagesPerBatch is floor(tokens / tokens-per-page), at least one.
func PagesPerBatch(tokens int) int {
	return max(1, tokens/constants.VisionTokensPerPage)
}

func (a *Adapter) Extract(ctx context.Context, src extract.Source) extract.Result {
	s := &session{
		a:     a,
		reqID: uuid.New().String(),
		start: time.Now(),
		m:     extract.Metrics{Variant: a.Variant()},
	}
	a.logger.Info("llm.extract.start",
		"req_id", s.reqID,
		"mode", a.mode,
		"document_id", src.Document.ID,
		"tenant_id", src.Document.TenantID,
		"text_len", len(src.Hints.SourceText),
		"has_prior", src.Hints.Prior != nil,
	)

	in := PromptInput{
		Mode:               a.mode,
		Email:              src.Document.Email,
		Filename:           src.Document.Filename,
		DefaultCurrency:    src.Hints.DefaultCurrency,
		Units:              constants.UnitsAsStringSlice(),
		CustomerReferences: src.Hints.CustomerReferences,
		Examples:           s.examples(ctx, src),
		Prior:              src.Hints.Prior,
		SourceText:         src.Hints.SourceText,
		SourceCharLimit:    a.cfg.SourceCharLimit,
	}
	s.m.FewShotExamples = len(in.Examples)

	var (
		out *canonical.Output
		err error
	)
	if a.mode == ModeVision {
		out, err = s.vision(ctx, src, in)
	} else {
		out, err = s.text(ctx, src, in)
	}
	return s.result(out, err)
}

// session is the per-run state: metrics and whether the single repair was spent.
type session struct {
	a        *Adapter
	reqID    string
	start    time.Time
	m        extract.Metrics
	repaired bool
}

func (s *session) examples(ctx context.Context, src extract.Source) []entity.FeedbackExample {
	fp := src.Document.LayoutFingerprint
	if s.a.feedback == nil || fp == "" {
		return nil
	}
	got, err := s.a.feedback.RecentByFingerprint(ctx, src.Document.TenantID, fp, s.a.cfg.FewShotExamples)
	if err != nil {
		s.a.logger.Warn("llm.feedback.lookup_failed", "req_id", s.reqID, "fingerprint", fp, "error", err)
		return nil
	}
	if len(got) > s.a.cfg.FewShotExamples {
		got = got[:s.a.cfg.FewShotExamples]
	}
	return got
}

func (s *session) text(ctx context.Context, src extract.Source, in PromptInput) (*canonical.Output, error) {
	if in.SourceText == "" {
		return nil, common.NewAppError(common.CodeUnsupportedDocument, "document has no text for text extraction", nil)
	}
	p := Prompt{
		System:    BuildSystemPrompt(in),
		User:      BuildUserPrompt(in),
		Examples:  FewShot(in.Examples, s.a.cfg.FewShotExamples),
		MaxTokens: s.a.cfg.MaxOutputTokens,
	}
	return s.complete(ctx, p, canonical.Options{MaxLines: s.a.cfg.MaxLines, SourceLineCount: src.Hints.SourceLines})
}

func (s *session) vision(ctx context.Context, src extract.Source, in PromptInput) (*canonical.Output, error) {
	if s.a.pages == nil {
		return nil, common.NewAppError(common.CodeUnsupportedDocument, "no page source configured for vision extraction", nil)
	}
	images, err := s.a.pages.Pages(ctx, src.Document, src.Content)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, common.NewAppError(common.CodeUnsupportedDocument, "document has no pages to render", nil)
	}
	s.m.PagesRead = len(images)

	tokens := s.a.cfg.VisionTokensPerCall
	if src.Hints.MaxTokens > 0 && src.Hints.MaxTokens < tokens {
		tokens = src.Hints.MaxTokens
	}
	perBatch := PagesPerBatch(tokens)
	opts := canonical.Options{MaxLines: s.a.cfg.MaxLines, SourceLineCount: src.Hints.SourceLines}
	examples := FewShot(in.Examples, s.a.cfg.FewShotExamples)
	in.TotalPages = len(images)

	merged := canonical.New()
	for first := 0; first < len(images); first += perBatch {
		last := min(first+perBatch, len(images))
		in.FirstPage, in.LastPage = first+1, last
		p := Prompt{
			System:    BuildSystemPrompt(in),
			User:      BuildUserPrompt(in),
			Examples:  examples,
			Images:    images[first:last],
			MaxTokens: s.a.cfg.MaxOutputTokens,
		}
		out, err := s.complete(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		s.m.VisionBatches++
		mergeBatch(merged, out)
		s.a.logger.Debug("llm.vision.batch_done",
			"req_id", s.reqID,
			"first_page", first+1,
			"last_page", last,
			"lines", len(out.Lines),
		)
	}
	// Batches number their lines independently; renumbering makes them unique again.
	canonical.Normalize(merged, canonical.Options{MaxLines: s.a.cfg.MaxLines, SourceLineCount: max(opts.SourceLineCount, len(merged.Lines))})
	return merged, nil
}

// complete performs one call and validates it, spending the run's single repair if needed.
func (s *session) complete(ctx context.Context, p Prompt, opts canonical.Options) (*canonical.Output, error) {
	c, err := s.call(ctx, p)
	if err != nil {
		return nil, err
	}
	out, verr := canonical.Validate(CleanResponse(c.Text), opts)
	if verr == nil {
		return out, nil
	}
	if s.repaired {
		s.a.logger.Warn("llm.extract.invalid_after_repair", "req_id", s.reqID, "error", verr)
		return nil, common.NewAppError(common.CodeLLMOutputInvalid, "model output invalid and repair already spent", verr)
	}

	s.repaired = true
	s.m.RepairAttempted = true
	s.a.logger.Warn("llm.repair.start", "req_id", s.reqID, "error", verr)

	rc, err := s.call(ctx, BuildRepairPrompt(c.Text, reason(verr), p.MaxTokens))
	if err != nil {
		s.a.observer.Repair(OutcomeFailed)
		return nil, err
	}
	out, verr = canonical.Validate(CleanResponse(rc.Text), opts)
	if verr != nil {
		s.a.observer.Repair(OutcomeInvalid)
		s.a.logger.Error("llm.repair.failed", "req_id", s.reqID, "error", verr)
		return nil, common.NewAppError(common.CodeLLMOutputInvalid, "model output invalid after repair", verr)
	}
	s.a.observer.Repair(OutcomeOK)
	s.a.logger.Info("llm.repair.ok", "req_id", s.reqID)
	return out, nil
}

// call runs one provider request under its own timeout. A caller that abandons the run does not
// interrupt the request, but its result is discarded.
func (s *session) call(ctx context.Context, p Prompt) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, common.NewAppError(common.CodeCanceled, "run abandoned before provider call", err)
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.a.cfg.Timeout)
	defer cancel()

	mode := ModeText
	var (
		c   Completion
		err error
	)
	if len(p.Images) > 0 {
		mode = ModeVision
		c, err = s.a.provider.CompleteVision(callCtx, p)
	} else {
		c, err = s.a.provider.CompleteText(callCtx, p)
	}
	s.m.LLMCalls++
	s.m.InputTokens += c.InputTokens
	s.m.OutputTokens += c.OutputTokens
	s.m.CostUSD += c.CostUSD
	if c.Model != "" {
		s.m.Model = c.Model
	}

	if ctx.Err() != nil {
		s.a.observer.LLMCall(mode, OutcomeDiscarded)
		s.a.logger.Warn("llm.call.discarded", "req_id", s.reqID, "mode", mode)
		return Completion{}, common.NewAppError(common.CodeCanceled, "run abandoned; provider result discarded", ctx.Err())
	}
	if err != nil {
		appErr := ClassifyTransport(err)
		s.a.observer.LLMCall(mode, string(appErr.Code))
		s.a.logger.Error("llm.call.error",
			"req_id", s.reqID,
			"mode", mode,
			"code", appErr.Code,
			"error", err,
		)
		return Completion{}, appErr
	}
	s.a.observer.LLMCall(mode, OutcomeOK)
	s.a.logger.Debug("llm.call.ok",
		"req_id", s.reqID,
		"mode", mode,
		"model", c.Model,
		"input_tokens", c.InputTokens,
		"output_tokens", c.OutputTokens,
		"latency_ms", c.Latency.Milliseconds(),
	)
	return c, nil
}

func (s *session) result(out *canonical.Output, err error) extract.Result {
	s.m.Duration = time.Since(s.start)
	if err != nil {
		s.a.logger.Error("llm.extract.failed",
			"req_id", s.reqID,
			"mode", s.a.mode,
			"code", common.CodeOf(err),
			"calls", s.m.LLMCalls,
			"repair_attempted", s.m.RepairAttempted,
			"elapsed_ms", s.m.Duration.Milliseconds(),
		)
		return extract.Result{Err: err, Metrics: s.m}
	}
	score := confidence.Apply(out, confidence.Penalties{})
	s.a.logger.Info("llm.extract.ok",
		"req_id", s.reqID,
		"mode", s.a.mode,
		"lines", len(out.Lines),
		"confidence", score,
		"calls", s.m.LLMCalls,
		"cost_usd", s.m.CostUSD,
		"elapsed_ms", s.m.Duration.Milliseconds(),
	)
	return extract.Result{Success: true, Output: out, Confidence: score, Metrics: s.m}
}

// mergeBatch appends the batch lines and fills header fields that are still empty.
func mergeBatch(dst, batch *canonical.Output) {
	h := &dst.Order
	b := batch.Order
	h.OrderNumber = firstNonNil(h.OrderNumber, b.OrderNumber)
	h.OrderDate = firstNonNil(h.OrderDate, b.OrderDate)
	h.Currency = firstNonNil(h.Currency, b.Currency)
	h.DeliveryDate = firstNonNil(h.DeliveryDate, b.DeliveryDate)
	h.Notes = firstNonNil(h.Notes, b.Notes)
	h.ShippingHint = firstNonNil(h.ShippingHint, b.ShippingHint)
	h.BillingHint = firstNonNil(h.BillingHint, b.BillingHint)
	dst.Lines = append(dst.Lines, batch.Lines...)
	for _, w := range batch.Warnings {
		dst.AddWarning(w)
	}
}

func firstNonNil(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

func reason(err error) string {
	var ve *canonical.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
