package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/budget"
	"github.com/joseph-ayodele/order-extractor/internal/cache"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/confidence"
	"github.com/joseph-ayodele/order-extractor/internal/decision"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/extract"
	"github.com/joseph-ayodele/order-extractor/internal/fingerprint"
	"github.com/joseph-ayodele/order-extractor/internal/guards"
	"github.com/joseph-ayodele/order-extractor/internal/storage"
	"github.com/joseph-ayodele/order-extractor/internal/tenant"
)

// chain runs: load → cache → measure → rule-based → decide → budget → LLM → guards.
func (p *Processor) chain(ctx context.Context, log *slog.Logger, doc entity.Document, opts runOptions) outcome {
	oc := outcome{variant: constants.VariantNone}

	policy := p.policy(ctx, log, doc.TenantID)

	content, err := storage.ReadAll(ctx, p.deps.Store, doc.ContentKey)
	if err != nil {
		code := common.CodeStorageUnavailable
		if ctx.Err() != nil {
			code = common.CodeCanceled
		}
		oc.err = common.NewAppError(code, "read document content", err)
		return oc
	}
	oc.content = content

	if opts.useCache && p.deps.Cache != nil {
		entry, hit := p.deps.Cache.Get(ctx, cache.Key(doc.TenantID, content))
		p.deps.Recorder.CacheLookup(hit)
		if hit && entry.Output != nil {
			log.Info("pipeline.cache.hit", "variant", entry.Variant)
			oc.variant = entry.Variant
			oc.output = entry.Output
			oc.fingerprint = entry.Fingerprint
			oc.metrics.CacheHit = true
			return oc
		}
	}

	format := constants.MapMIMEToFormat(doc.MIMEType)
	if format == "" {
		oc.err = common.NewAppError(common.CodeUnsupportedDocument, "unsupported mime type "+doc.MIMEType, nil)
		return oc
	}

	meas := p.measure(log, doc, format, content)
	oc.metrics.TextCoverage = meas.Coverage
	if doc.PageCount == 0 {
		doc.PageCount = meas.Pages
	}

	th := p.thresholds(policy)
	in := decision.Inputs{TextCoverage: meas.Coverage, ForceLLM: opts.forceLLM}

	// Rule-based stage.
	var rule extract.Result
	if decision.SkipsRuleBased(meas.Coverage, th) {
		log.Info("pipeline.rule.skipped", "text_coverage", meas.Coverage)
	} else {
		rule = p.ruleBased(ctx, log, doc, content)
		oc.metrics.RuleDurationMS = rule.Metrics.Duration.Milliseconds()
		oc.metrics.SheetName = rule.Metrics.SheetName
		oc.metrics.Delimiter = rule.Metrics.Delimiter
		oc.metrics.RowsRead = rule.Metrics.RowsRead
		oc.metrics.PagesRead = rule.Metrics.PagesRead
		oc.metrics.RuleConfidence = rule.Confidence
		in.RuleSucceeded = rule.Success
		in.RuleConfidence = rule.Confidence
		if rule.Output != nil {
			in.RuleLineCount = len(rule.Output.Lines)
		}
	}

	sourceText := sourceTextOf(rule, meas)
	doc.LayoutFingerprint = fingerprint.Compute(doc.LayoutFingerprint, sourceText, doc.PageCount)
	oc.fingerprint = doc.LayoutFingerprint

	d := decision.Decide(in, th)
	oc.metrics.DecisionReason = d.Reason
	if !d.Wanted.IsLLM() {
		oc.variant = rule.Metrics.Variant
		oc.output = p.guardRuleOutput(rule.Output)
		return oc
	}

	// Escalation: consult the budget gate and decide again with its verdict.
	est := p.estimate(d.Wanted, len(sourceText), doc.PageCount)
	state, gateErr := p.deps.Gate.Check(ctx, policy, doc.TenantID, est)
	if gateErr != nil {
		log.Warn("pipeline.budget.check_failed", "error", gateErr)
	}
	in.Budget = state
	d = decision.Decide(in, th)

	if d.BudgetBlocked {
		p.deps.Recorder.Escalation(string(d.Wanted), decision.ReasonBudgetBlocked)
		log.Info("pipeline.escalation.blocked", "wanted", d.Wanted, "reason", d.Reason, "budget_reason", d.BudgetReason)
		oc.metrics.DecisionReason = d.Reason + "," + decision.ReasonBudgetBlocked
		out := rule.Output
		if out == nil {
			out = canonical.New()
			if rule.Err != nil {
				out.AddWarning(constants.WarnRuleBasedFailed)
			}
		}
		out = p.guardRuleOutput(out)
		out.AddWarning(constants.WarnBudgetExceeded)
		oc.variant = rule.Metrics.Variant
		if oc.variant == "" {
			oc.variant = constants.VariantNone
		}
		oc.output = out
		return oc
	}

	p.deps.Recorder.Escalation(string(d.Strategy), d.Reason)
	log.Info("pipeline.escalation", "strategy", d.Strategy, "reason", d.Reason, "est_cost_usd", est.CostUSD)

	if d.Strategy == decision.LLMText && sourceText == "" {
		msg := "document has no text for model extraction"
		if rule.Err != nil {
			msg = "rule-based extraction failed: " + rule.Err.Error()
		}
		oc.err = common.NewAppError(common.CodeUnsupportedDocument, msg, rule.Err)
		return oc
	}

	llmx, ok := p.deps.Registry.Resolve(doc.MIMEType, d.Strategy)
	if !ok {
		oc.err = common.NewAppError(common.CodeConfig, "no extractor registered for "+string(d.Strategy), nil)
		return oc
	}

	var prior *canonical.Output
	if rule.Success && rule.Output != nil {
		prior = rule.Output
	}
	res := llmx.Extract(ctx, extract.Source{
		Document: doc,
		Content:  content,
		Hints: extract.Hints{
			DefaultCurrency:    policy.DefaultCurrency,
			CustomerReferences: policy.CustomerReferences,
			Prior:              prior,
			SourceText:         sourceText,
			SourceLines:        rule.SourceLines,
			PageCount:          doc.PageCount,
			MaxTokens:          policy.MaxTokens,
		},
	})
	p.recordLLM(ctx, log, doc.TenantID, &oc.metrics, res.Metrics)
	oc.variant = llmx.Variant()

	if !res.Success {
		oc.err = res.Err
		if oc.err == nil {
			oc.err = common.NewAppError(common.CodeInternal, "extractor reported failure without an error", nil)
		}
		return oc
	}

	out := res.Output
	report := guards.Apply(out, guards.Source{Text: sourceText, PageCount: doc.PageCount}, guards.Options{
		MaxQuantity: p.cfg.MaxQuantity,
		Anchors:     true,
		Volume:      true,
	})
	confidence.Apply(out, report.Penalties())
	p.recordGuards(log, report)
	oc.output = out
	return oc
}

// Fingerprint computes the layout fingerprint of doc without extracting it.
func (p *Processor) Fingerprint(ctx context.Context, doc entity.Document) (string, error) {
	log := p.logger.With("document_id", doc.ID)
	content, err := storage.ReadAll(ctx, p.deps.Store, doc.ContentKey)
	if err != nil {
		return "", common.NewAppError(common.CodeStorageUnavailable, "read document content", err)
	}
	format := constants.MapMIMEToFormat(doc.MIMEType)
	if format == "" {
		return "", common.NewAppError(common.CodeUnsupportedDocument, "unsupported mime type "+doc.MIMEType, nil)
	}
	meas := p.measure(log, doc, format, content)
	var rule extract.Result
	if !decision.SkipsRuleBased(meas.Coverage, p.cfg.Thresholds) {
		rule = p.ruleBased(ctx, log, doc, content)
	}
	pages := doc.PageCount
	if pages == 0 {
		pages = meas.Pages
	}
	return fingerprint.Compute(doc.LayoutFingerprint, sourceTextOf(rule, meas), pages), nil
}

// sourceTextOf prefers the rule-based rendering and falls back to the raw PDF text.
func sourceTextOf(rule extract.Result, meas extract.Measurement) string {
	if rule.SourceText != "" {
		return rule.SourceText
	}
	if meas.PDF != nil {
		return meas.PDF.Text()
	}
	return ""
}

func (p *Processor) policy(ctx context.Context, log *slog.Logger, tenantID string) tenant.Policy {
	if p.deps.Tenants == nil {
		return tenant.DefaultPolicy()
	}
	policy, err := p.deps.Tenants.Policy(ctx, tenantID)
	if err != nil {
		log.Warn("pipeline.tenant.policy_failed", "error", err)
		return tenant.DefaultPolicy()
	}
	return policy
}

func (p *Processor) thresholds(policy tenant.Policy) decision.Thresholds {
	th := p.cfg.Thresholds
	if policy.EscalationConfidence > 0 {
		th.EscalationConfidence = policy.EscalationConfidence
	}
	return th
}

func (p *Processor) measure(log *slog.Logger, doc entity.Document, format string, content []byte) extract.Measurement {
	if doc.TextCoverage != nil {
		return extract.Measurement{Coverage: *doc.TextCoverage, Pages: doc.PageCount}
	}
	m, err := extract.Measure(format, content)
	if err != nil {
		log.Warn("pipeline.coverage.measure_failed", "format", format, "error", err)
		return extract.Measurement{}
	}
	return m
}

func (p *Processor) ruleBased(ctx context.Context, log *slog.Logger, doc entity.Document, content []byte) extract.Result {
	x, ok := p.deps.Registry.Resolve(doc.MIMEType, decision.RuleBased)
	if !ok {
		return extract.Result{Err: common.NewAppError(common.CodeUnsupportedDocument, "no rule-based extractor for "+doc.MIMEType, nil)}
	}
	res := x.Extract(ctx, extract.Source{Document: doc, Content: content})
	if res.Metrics.Variant == "" {
		res.Metrics.Variant = x.Variant()
	}
	if !res.Success {
		log.Info("pipeline.rule.failed", "variant", x.Variant(), "error", res.Err)
		return res
	}
	log.Info("pipeline.rule.done",
		"variant", x.Variant(),
		"lines", len(res.Output.Lines),
		"confidence", res.Confidence,
	)
	return res
}

// guardRuleOutput applies the range check to a rule-based output and re-scores it.
func (p *Processor) guardRuleOutput(out *canonical.Output) *canonical.Output {
	if out == nil {
		return canonical.New()
	}
	report := guards.Apply(out, guards.Source{}, guards.Options{MaxQuantity: p.cfg.MaxQuantity})
	confidence.Apply(out, report.Penalties())
	if report.RangeViolations > 0 {
		p.deps.Recorder.GuardFlag("range", report.RangeViolations)
	}
	return out
}

func (p *Processor) estimate(s decision.Strategy, chars, pages int) budget.Estimate {
	maxOut := p.cfg.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = 4096
	}
	if s == decision.LLMVision {
		return budget.EstimateVision(pages, maxOut, p.cfg.Pricing)
	}
	if p.cfg.SourceCharLimit > 0 {
		chars = min(chars, p.cfg.SourceCharLimit)
	}
	return budget.EstimateText(chars, pages, maxOut, p.cfg.Pricing)
}

// recordLLM copies the adapter metrics onto the run and books the spend, even for failed calls.
func (p *Processor) recordLLM(ctx context.Context, log *slog.Logger, tenantID string, m *entity.RunMetrics, lm extract.Metrics) {
	m.LLMDurationMS = lm.Duration.Milliseconds()
	m.LLMCalls = lm.LLMCalls
	m.VisionBatches = lm.VisionBatches
	m.RepairAttempted = lm.RepairAttempted
	m.InputTokens = lm.InputTokens
	m.OutputTokens = lm.OutputTokens
	m.CostUSD = lm.CostUSD
	m.Model = lm.Model
	m.FewShotExamples = lm.FewShotExamples
	if lm.PagesRead > 0 {
		m.PagesRead = lm.PagesRead
	}
	if lm.CostUSD <= 0 {
		return
	}
	p.deps.Recorder.Cost(lm.CostUSD)
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Gate.Record(ledgerCtx, tenantID, lm.CostUSD); err != nil {
		log.Error("pipeline.budget.record_failed", "cost_usd", lm.CostUSD, "error", err)
	}
}

func (p *Processor) recordGuards(log *slog.Logger, r guards.Report) {
	if r.AnchorFailures > 0 {
		p.deps.Recorder.GuardFlag("anchor", r.AnchorFailures)
	}
	if r.RangeViolations > 0 {
		p.deps.Recorder.GuardFlag("range", r.RangeViolations)
	}
	if r.VolumeFlagged {
		p.deps.Recorder.GuardFlag("volume", 1)
	}
	if r.Suspicious {
		p.deps.Recorder.GuardFlag("suspicious", 1)
		log.Warn("pipeline.guards.suspicious",
			"anchor_failures", r.AnchorFailures,
			"volume_flagged", r.VolumeFlagged,
		)
	}
}
