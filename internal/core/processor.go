// Package core runs extraction: it owns the decision chain from document bytes to a terminal
// ExtractionRun and hands every terminal run to the configured sinks.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/budget"
	"github.com/joseph-ayodele/order-extractor/internal/cache"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/decision"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/extract"
	"github.com/joseph-ayodele/order-extractor/internal/storage"
	"github.com/joseph-ayodele/order-extractor/internal/tenant"
)

// RunSink receives every terminal run.
type RunSink interface {
	Record(ctx context.Context, run entity.ExtractionRun) error
}

// SinkFunc adapts a function to RunSink.
type SinkFunc func(ctx context.Context, run entity.ExtractionRun) error

func (f SinkFunc) Record(ctx context.Context, run entity.ExtractionRun) error { return f(ctx, run) }

// Recorder receives run-level measurements; *metrics.Metrics implements it.
type Recorder interface {
	RunFinished(variant, status string, d time.Duration)
	Escalation(strategy, reason string)
	GuardFlag(guard string, n int)
	Cost(usd float64)
	CacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, string, time.Duration) {}
func (nopRecorder) Escalation(string, string)                 {}
func (nopRecorder) GuardFlag(string, int)                     {}
func (nopRecorder) Cost(float64)                              {}
func (nopRecorder) CacheLookup(bool)                          {}

// Deps are the collaborators of a Processor. Cache, Sinks and Recorder are optional.
type Deps struct {
	Store    storage.Store
	Registry *extract.Registry
	Tenants  tenant.Provider
	Gate     *budget.Gate
	Cache    cache.ResultCache
	Sinks    []RunSink
	Recorder Recorder
}

// Config holds the engine-wide tunables.
type Config struct {
	Thresholds      decision.Thresholds
	MaxLines        int
	MaxQuantity     float64
	MaxOutputTokens int
	SourceCharLimit int
	Pricing         budget.Pricing
}

// Processor executes extraction runs. It holds no per-run state and is safe for concurrent use.
type Processor struct {
	logger *slog.Logger
	deps   Deps
	cfg    Config
	now    func() time.Time
}

func NewProcessor(logger *slog.Logger, deps Deps, cfg Config) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Gate == nil {
		deps.Gate = budget.NewGate(logger, nil)
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = constants.DefaultMaxLines
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = constants.DefaultMaxQuantity
	}
	return &Processor{logger: logger, deps: deps, cfg: cfg, now: time.Now}
}

// RunExtraction executes the full decision chain for doc and returns its terminal run. The
// returned error only reports sink failures; extraction failures are recorded on the run.
func (p *Processor) RunExtraction(ctx context.Context, doc entity.Document) (entity.ExtractionRun, error) {
	return p.run(ctx, doc, runOptions{useCache: true})
}

// RetryExtraction creates a new run that bypasses the result cache. forceLLM escalates to the
// model even when the rule-based result is confident; the budget gate still applies.
func (p *Processor) RetryExtraction(ctx context.Context, doc entity.Document, forceLLM bool) (entity.ExtractionRun, error) {
	return p.run(ctx, doc, runOptions{forceLLM: forceLLM})
}

type runOptions struct {
	useCache bool
	forceLLM bool
}

// outcome is what the chain produced before the run is terminated.
type outcome struct {
	variant string
	output  *canonical.Output
	err     error
	metrics entity.RunMetrics
	content []byte
	// fingerprint is the layout fingerprint, once the chain got far enough to compute it.
	fingerprint string
}

func (p *Processor) run(ctx context.Context, doc entity.Document, opts runOptions) (entity.ExtractionRun, error) {
	start := p.now()
	run, err := entity.NewRun(doc, start).Start(start)
	if err != nil {
		return run, fmt.Errorf("start run: %w", err)
	}
	ctx = common.WithRunID(common.WithTenantID(ctx, doc.TenantID), run.ID.String())

	log := p.logger.With("run_id", run.ID, "document_id", doc.ID, "tenant_id", doc.TenantID)
	if reqID := common.RequestIDFromContext(ctx); reqID != "" {
		log = log.With("req_id", reqID)
	}
	log.Info("pipeline.run.start", "mime_type", doc.MIMEType, "force_llm", opts.forceLLM, "use_cache", opts.useCache)

	oc := p.chain(ctx, log, doc, opts)
	if oc.err == nil && ctx.Err() != nil {
		oc.err = common.NewAppError(common.CodeCanceled, "run abandoned by caller", ctx.Err())
		oc.output = nil
	}

	end := p.now()
	oc.metrics.DurationMS = end.Sub(start).Milliseconds()
	run.LayoutFingerprint = oc.fingerprint
	if oc.err != nil {
		code := common.CodeOf(oc.err)
		run, err = run.Fail(end, oc.variant, entity.RunError{
			Code:      string(code),
			Message:   oc.err.Error(),
			Retryable: code.Retryable(),
		}, oc.metrics)
	} else {
		run, err = run.Succeed(end, oc.variant, oc.output, oc.metrics)
	}
	if err != nil {
		return run, fmt.Errorf("terminate run: %w", err)
	}

	p.deps.Recorder.RunFinished(run.Variant, string(run.Status), end.Sub(start))
	log.Info("pipeline.run.finished",
		"status", run.Status,
		"variant", run.Variant,
		"confidence", run.Confidence(),
		"decision_reason", run.Metrics.DecisionReason,
		"cost_usd", run.Metrics.CostUSD,
		"elapsed_ms", run.Metrics.DurationMS,
	)

	// The terminal record is written even when the caller has gone away.
	sinkCtx := context.WithoutCancel(ctx)
	p.cacheResult(sinkCtx, log, run, oc.content)
	return run, p.emit(sinkCtx, log, run)
}

func (p *Processor) emit(ctx context.Context, log *slog.Logger, run entity.ExtractionRun) error {
	var errs []error
	for _, s := range p.deps.Sinks {
		if err := s.Record(ctx, run); err != nil {
			log.Error("pipeline.sink.failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) cacheResult(ctx context.Context, log *slog.Logger, run entity.ExtractionRun, content []byte) {
	if p.deps.Cache == nil || run.Status != constants.RunStatusSucceeded || run.Metrics.CacheHit || content == nil {
		return
	}
	// Budget-blocked and rule-failed outputs are provisional: the next run must take the chain again.
	if run.Output.HasWarning(constants.WarnBudgetExceeded) || run.Output.HasWarning(constants.WarnRuleBasedFailed) {
		log.Debug("pipeline.cache.skipped", "warnings", run.Output.Warnings)
		return
	}
	entry := cache.Entry{Variant: run.Variant, Output: run.Output, Fingerprint: run.LayoutFingerprint}
	if err := p.deps.Cache.Put(ctx, cache.Key(run.TenantID, content), entry); err != nil {
		log.Warn("pipeline.cache.put_failed", "error", err)
	}
}
