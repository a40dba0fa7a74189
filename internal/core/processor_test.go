package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const semicolonCSV = "sku;qty;price\nABC-1;10;1,50\nABC-2;5;2,00\n"

type memStore map[string][]byte

func (m memStore) Retrieve(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// fakeLLM stands in for a model-backed extractor.
type fakeLLM struct {
	variant string
	result  func(src extract.Source) extract.Result

	mu    sync.Mutex
	calls []extract.Source
}

func (f *fakeLLM) Variant() string { return f.variant }

func (f *fakeLLM) Extract(_ context.Context, src extract.Source) extract.Result {
	f.mu.Lock()
	f.calls = append(f.calls, src)
	f.mu.Unlock()
	return f.result(src)
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okLLM(variant string, lines ...canonical.Line) *fakeLLM {
	return &fakeLLM{variant: variant, result: func(extract.Source) extract.Result {
		out := canonical.New()
		out.Order.OrderNumber = canonical.Str("PO-9")
		out.Lines = append(out.Lines, lines...)
		canonical.Normalize(out, canonical.Options{})
		return extract.Result{
			Success: true,
			Output:  out,
			Metrics: extract.Metrics{Variant: variant, LLMCalls: 1, CostUSD: 0.02, Model: "fake"},
		}
	}}
}

type policyProvider struct{ p tenant.Policy }

func (s policyProvider) Policy(context.Context, string) (tenant.Policy, error) { return s.p, nil }

type recordingSink struct {
	mu   sync.Mutex
	runs []entity.ExtractionRun
	err  error
}

func (s *recordingSink) Record(_ context.Context, run entity.ExtractionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.err
}

type countingRecorder struct {
	nopRecorder
	mu          sync.Mutex
	escalations []string
	guards      map[string]int
}

func (r *countingRecorder) Escalation(strategy, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, strategy+"/"+reason)
}

func (r *countingRecorder) GuardFlag(guard string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.guards == nil {
		r.guards = map[string]int{}
	}
	r.guards[guard] += n
}

type harness struct {
	proc     *Processor
	store    memStore
	text     *fakeLLM
	vision   *fakeLLM
	ledger   *budget.MemoryLedger
	cache    *cache.MemoryCache
	sink     *recordingSink
	recorder *countingRecorder
}

func newHarness(t *testing.T, policy tenant.Policy, pricing budget.Pricing) *harness {
	t.Helper()
	h := &harness{
		store:    memStore{},
		text:     okLLM(constants.VariantLLMText, canonical.Line{CustomerSKU: canonical.Str("ABC-1"), Quantity: qty(10), Description: canonical.Str("Widget")}),
		vision:   okLLM(constants.VariantLLMVision, canonical.Line{CustomerSKU: canonical.Str("SCAN-1"), Quantity: qty(3), Description: canonical.Str("Scanned")}),
		ledger:   budget.NewMemoryLedger(),
		cache:    cache.NewMemoryCache(),
		sink:     &recordingSink{},
		recorder: &countingRecorder{},
	}
	reg := extract.NewRegistry()
	reg.RegisterRuleBased(
		extract.NewSpreadsheetExtractor(nil, 0),
		extract.NewDelimitedExtractor(nil, 0),
		extract.NewTextPDFExtractor(nil, 0, 0),
	)
	reg.Register(extract.AnyFormat, decision.LLMText, h.text)
	reg.Register(extract.AnyFormat, decision.LLMVision, h.vision)

	h.proc = NewProcessor(nil, Deps{
		Store:    h.store,
		Registry: reg,
		Tenants:  policyProvider{p: policy},
		Gate:     budget.NewGate(nil, h.ledger),
		Cache:    h.cache,
		Sinks:    []RunSink{h.sink},
		Recorder: h.recorder,
	}, Config{Pricing: pricing})
	return h
}

func qty(v float64) *float64 { return &v }

func (h *harness) csv(id, body string) entity.Document {
	key := "docs/" + id + ".csv"
	h.store[key] = []byte(body)
	return entity.Document{ID: id, TenantID: "acme", ContentKey: key, MIMEType: "text/csv", Filename: id + ".csv"}
}

func TestRunExtractionConfidentCSVStaysRuleBased(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	run, err := h.proc.RunExtraction(context.Background(), h.csv("d1", semicolonCSV))
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusSucceeded, run.Status)
	assert.Equal(t, constants.VariantDelimited, run.Variant)
	assert.Equal(t, decision.ReasonConfident, run.Metrics.DecisionReason)
	assert.Equal(t, ";", run.Metrics.Delimiter)
	require.Len(t, run.Output.Lines, 2)
	assert.Equal(t, 10.0, *run.Output.Lines[0].Quantity)
	assert.Equal(t, 5.0, *run.Output.Lines[1].Quantity)
	assert.GreaterOrEqual(t, run.Confidence(), 0.6)
	assert.Zero(t, h.text.Calls())
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, constants.PipelineVersion, run.PipelineVersion)

	require.Len(t, h.sink.runs, 1)
	assert.Equal(t, run.ID, h.sink.runs[0].ID)
}

func TestRunExtractionHeaderOnlyEscalatesToText(t *testing.T) {
	h := newHarness(t, tenant.Policy{DefaultCurrency: "EUR", CustomerReferences: []string{"C-77"}, MaxTokens: 50000}, budget.Pricing{})
	run, err := h.proc.RunExtraction(context.Background(), h.csv("d2", "sku;qty;price\nABC-1\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusSucceeded, run.Status)
	assert.Equal(t, constants.VariantLLMText, run.Variant)
	require.Equal(t, 1, h.text.Calls())
	assert.Contains(t, h.recorder.escalations, "LLM_TEXT/"+decision.ReasonLowConfidence)

	src := h.text.calls[0]
	assert.Equal(t, "EUR", src.Hints.DefaultCurrency)
	assert.Equal(t, []string{"C-77"}, src.Hints.CustomerReferences)
	assert.Contains(t, src.Hints.SourceText, "ABC-1")
	assert.NotNil(t, src.Hints.Prior)
	assert.NotEmpty(t, src.Document.LayoutFingerprint)
	assert.Equal(t, 50000, src.Hints.MaxTokens)

	assert.Equal(t, 1, run.Metrics.LLMCalls)
	assert.InDelta(t, 0.02, run.Metrics.CostUSD, 1e-9)
	spent, err := h.ledger.SpentToday(context.Background(), "acme", time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.02, spent, 1e-9)
}

func TestRunExtractionEmptyCSVEscalates(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	run, err := h.proc.RunExtraction(context.Background(), h.csv("d3", "sku;qty;price\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.VariantLLMText, run.Variant)
	assert.Equal(t, decision.ReasonNoLines, run.Metrics.DecisionReason)
	assert.Zero(t, run.Metrics.RuleConfidence)
	require.NotNil(t, h.text.calls[0].Hints.Prior)
	assert.Empty(t, h.text.calls[0].Hints.Prior.Lines)
}

func TestRunExtractionLowCoverageRoutesToVision(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	h.store["scan.png"] = []byte("\x89PNG fake")
	doc := entity.Document{ID: "img", TenantID: "acme", ContentKey: "scan.png", MIMEType: "image/png"}

	run, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, constants.VariantLLMVision, run.Variant)
	assert.Equal(t, decision.ReasonLowCoverage, run.Metrics.DecisionReason)
	assert.Zero(t, run.Metrics.TextCoverage)
	assert.Zero(t, h.text.Calls())
	require.Equal(t, 1, h.vision.Calls())
	assert.Equal(t, 1, h.vision.calls[0].Hints.PageCount)
	assert.Nil(t, h.vision.calls[0].Hints.Prior)
	assert.Empty(t, h.vision.calls[0].Document.LayoutFingerprint, "no text, no few-shot key")
	assert.Empty(t, run.LayoutFingerprint)
	require.Len(t, run.Output.Lines, 1)
}

func TestRunExtractionBudgetBlockKeepsRuleOutput(t *testing.T) {
	policy := tenant.Policy{DailySpendCeilingUSD: 0.001, MaxTokens: 100000}
	h := newHarness(t, policy, budget.Pricing{InputPer1KUSD: 1, OutputPer1KUSD: 1})
	run, err := h.proc.RunExtraction(context.Background(), h.csv("d4", "sku;qty;price\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusSucceeded, run.Status)
	assert.Equal(t, constants.VariantDelimited, run.Variant)
	assert.Zero(t, h.text.Calls())
	assert.Empty(t, run.Output.Lines)
	assert.Zero(t, run.Confidence())
	assert.Contains(t, run.Output.Warnings, constants.WarnBudgetExceeded)
	assert.Contains(t, run.Metrics.DecisionReason, decision.ReasonBudgetBlocked)
	assert.Contains(t, h.recorder.escalations, "LLM_TEXT/"+decision.ReasonBudgetBlocked)
}

func TestRunExtractionBudgetBlockOnVisionSucceedsEmpty(t *testing.T) {
	h := newHarness(t, tenant.Policy{MaxPages: 1}, budget.Pricing{})
	cov := 0.0
	h.store["scan.pdf"] = []byte("%PDF")
	doc := entity.Document{ID: "p", TenantID: "acme", ContentKey: "scan.pdf", MIMEType: "application/pdf", PageCount: 4, TextCoverage: &cov}

	run, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusSucceeded, run.Status)
	assert.Equal(t, constants.VariantNone, run.Variant)
	assert.Empty(t, run.Output.Lines)
	assert.Contains(t, run.Output.Warnings, constants.WarnBudgetExceeded)
	assert.Zero(t, h.vision.Calls())
}

func TestRunExtractionBudgetBlockedResultIsNotCached(t *testing.T) {
	h := newHarness(t, tenant.Policy{DailySpendCeilingUSD: 0.001, MaxTokens: 100000}, budget.Pricing{InputPer1KUSD: 1, OutputPer1KUSD: 1})
	doc := h.csv("d4b", "sku;qty;price\n")

	blocked, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)
	require.Contains(t, blocked.Output.Warnings, constants.WarnBudgetExceeded)
	_, hit := h.cache.Get(context.Background(), cache.Key("acme", []byte("sku;qty;price\n")))
	assert.False(t, hit)

	h.proc.deps.Tenants = policyProvider{p: tenant.Policy{MaxTokens: 100000}}
	run, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	assert.False(t, run.Metrics.CacheHit)
	assert.Equal(t, constants.VariantLLMText, run.Variant)
	assert.NotContains(t, run.Output.Warnings, constants.WarnBudgetExceeded)
	assert.Equal(t, 1, h.text.Calls())
}

func TestCacheResultSkipsProvisionalOutputs(t *testing.T) {
	tests := []struct {
		name    string
		warning string
		cached  bool
	}{
		{name: "clean output", cached: true},
		{name: "budget exceeded", warning: constants.WarnBudgetExceeded},
		{name: "rule-based failed", warning: constants.WarnRuleBasedFailed},
		{name: "other warning", warning: constants.WarnUnitUnknown, cached: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
			now := time.Now()
			out := canonical.New()
			if tt.warning != "" {
				out.AddWarning(tt.warning)
			}
			run, err := entity.NewRun(entity.Document{ID: "c", TenantID: "acme"}, now).Start(now)
			require.NoError(t, err)
			run, err = run.Succeed(now, constants.VariantDelimited, out, entity.RunMetrics{})
			require.NoError(t, err)

			content := []byte(tt.name)
			h.proc.cacheResult(context.Background(), h.proc.logger, run, content)
			_, hit := h.cache.Get(context.Background(), cache.Key("acme", content))
			assert.Equal(t, tt.cached, hit)
		})
	}
}

func TestRunExtractionCacheHitCreatesNewRun(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	doc := h.csv("d5", semicolonCSV)

	first, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)
	second, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.Metrics.CacheHit)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, first.Variant, second.Variant)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, first.LayoutFingerprint, second.LayoutFingerprint)
	assert.Len(t, h.sink.runs, 2)
}

func TestRetryExtractionBypassesCache(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	doc := h.csv("d6", semicolonCSV)

	_, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	retry, err := h.proc.RetryExtraction(context.Background(), doc, false)
	require.NoError(t, err)
	assert.False(t, retry.Metrics.CacheHit)
	assert.Equal(t, constants.VariantDelimited, retry.Variant)

	forced, err := h.proc.RetryExtraction(context.Background(), doc, true)
	require.NoError(t, err)
	assert.Equal(t, constants.VariantLLMText, forced.Variant)
	assert.Equal(t, decision.ReasonForced, forced.Metrics.DecisionReason)
	assert.Equal(t, 1, h.text.Calls())
}

func TestRetryExtractionForceLLMStillGated(t *testing.T) {
	h := newHarness(t, tenant.Policy{MaxTokens: 10}, budget.Pricing{})
	run, err := h.proc.RetryExtraction(context.Background(), h.csv("d7", semicolonCSV), true)
	require.NoError(t, err)

	assert.Equal(t, constants.VariantDelimited, run.Variant)
	assert.Len(t, run.Output.Lines, 2)
	assert.Contains(t, run.Output.Warnings, constants.WarnBudgetExceeded)
	assert.Zero(t, h.text.Calls())
}

func TestRunExtractionFailures(t *testing.T) {
	tests := []struct {
		name      string
		doc       func(h *harness) entity.Document
		llm       func(h *harness)
		code      common.ErrorCode
		retryable bool
		variant   string
	}{
		{
			name: "missing content",
			doc: func(*harness) entity.Document {
				return entity.Document{ID: "x", TenantID: "acme", ContentKey: "nope.csv", MIMEType: "text/csv"}
			},
			code:      common.CodeStorageUnavailable,
			retryable: true,
			variant:   constants.VariantNone,
		},
		{
			name: "unsupported mime",
			doc: func(h *harness) entity.Document {
				h.store["a.bin"] = []byte{0, 1}
				return entity.Document{ID: "x", TenantID: "acme", ContentKey: "a.bin", MIMEType: "application/octet-stream"}
			},
			code:    common.CodeUnsupportedDocument,
			variant: constants.VariantNone,
		},
		{
			name: "corrupt spreadsheet with no text",
			doc: func(h *harness) entity.Document {
				h.store["a.xlsx"] = []byte("not a zip")
				return entity.Document{ID: "x", TenantID: "acme", ContentKey: "a.xlsx", MIMEType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
			},
			code:    common.CodeUnsupportedDocument,
			variant: constants.VariantNone,
		},
		{
			name: "model output invalid",
			doc:  func(h *harness) entity.Document { return h.csv("x", "sku;qty\n") },
			llm: func(h *harness) {
				h.text.result = func(extract.Source) extract.Result {
					return extract.Result{
						Err:     common.NewAppError(common.CodeLLMOutputInvalid, "repair failed", nil),
						Metrics: extract.Metrics{LLMCalls: 2, RepairAttempted: true, CostUSD: 0.01},
					}
				}
			},
			code:    common.CodeLLMOutputInvalid,
			variant: constants.VariantLLMText,
		},
		{
			name: "provider rate limited",
			doc:  func(h *harness) entity.Document { return h.csv("x", "sku;qty\n") },
			llm: func(h *harness) {
				h.text.result = func(extract.Source) extract.Result {
					return extract.Result{Err: common.NewAppError(common.CodeRateLimited, "429", nil)}
				}
			},
			code:      common.CodeRateLimited,
			retryable: true,
			variant:   constants.VariantLLMText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
			if tt.llm != nil {
				tt.llm(h)
			}
			run, err := h.proc.RunExtraction(context.Background(), tt.doc(h))
			require.NoError(t, err)

			assert.Equal(t, constants.RunStatusFailed, run.Status)
			assert.Nil(t, run.Output)
			require.NotNil(t, run.Error)
			assert.Equal(t, string(tt.code), run.Error.Code)
			assert.Equal(t, tt.retryable, run.Error.Retryable)
			assert.Equal(t, tt.variant, run.Variant)
			require.Len(t, h.sink.runs, 1, "every document yields a terminal run")
		})
	}
}

func TestRunExtractionRecordsSpendOnFailure(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	h.text.result = func(extract.Source) extract.Result {
		return extract.Result{
			Err:     common.NewAppError(common.CodeLLMOutputInvalid, "bad json", nil),
			Metrics: extract.Metrics{LLMCalls: 2, RepairAttempted: true, CostUSD: 0.05},
		}
	}
	run, err := h.proc.RunExtraction(context.Background(), h.csv("d8", "sku;qty\n"))
	require.NoError(t, err)

	assert.True(t, run.Metrics.RepairAttempted)
	assert.Equal(t, 2, run.Metrics.LLMCalls)
	spent, err := h.ledger.SpentToday(context.Background(), "acme", time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.05, spent, 1e-9)
}

func TestRunExtractionVolumeGuardOnShortDocument(t *testing.T) {
	var b strings.Builder
	b.WriteString("sku;qty\n")
	lines := make([]canonical.Line, 0, 250)
	for i := 1; i <= 250; i++ {
		sku := fmt.Sprintf("SKU-%03d", i)
		fmt.Fprintf(&b, "%s;%d\n", sku, i)
		lines = append(lines, canonical.Line{CustomerSKU: canonical.Str(sku), Quantity: qty(float64(i)), Description: canonical.Str("Part")})
	}

	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	h.text = okLLM(constants.VariantLLMText, lines...)
	h.proc.deps.Registry.Register(extract.AnyFormat, decision.LLMText, h.text)

	doc := h.csv("vol", b.String())
	doc.PageCount = 1
	run, err := h.proc.RetryExtraction(context.Background(), doc, true)
	require.NoError(t, err)

	require.Len(t, run.Output.Lines, 250)
	assert.Contains(t, run.Output.Warnings, constants.WarnVolumeSuspicious)
	assert.Contains(t, run.Output.Warnings, constants.WarnSuspiciousOutput)
	assert.NotContains(t, run.Output.Warnings, constants.WarnAnchorFailed)
	assert.LessOrEqual(t, run.Confidence(), constants.SuspiciousConfidenceCap)
	assert.Equal(t, 1, h.recorder.guards["volume"])
}

func TestRunExtractionAnchorPenalty(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	h.text = okLLM(constants.VariantLLMText,
		canonical.Line{CustomerSKU: canonical.Str("ABC-1"), Quantity: qty(10), Description: canonical.Str("x")},
		canonical.Line{CustomerSKU: canonical.Str("FAKE-999"), Quantity: qty(77), Description: canonical.Str("y")},
	)
	h.proc.deps.Registry.Register(extract.AnyFormat, decision.LLMText, h.text)

	run, err := h.proc.RetryExtraction(context.Background(), h.csv("anc", semicolonCSV), true)
	require.NoError(t, err)

	require.Len(t, run.Output.Lines, 2)
	assert.Equal(t, 1.0, run.Output.Lines[0].Confidence)
	assert.Equal(t, 0.5, run.Output.Lines[1].Confidence)
	assert.Contains(t, run.Output.Lines[1].Flags, constants.WarnAnchorFailed)
	assert.Equal(t, 1, h.recorder.guards["anchor"])
}

func TestRunExtractionSinkErrorStillReturnsRun(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	var published []entity.ExtractionRun
	h.proc.deps.Sinks = []RunSink{
		SinkFunc(func(context.Context, entity.ExtractionRun) error { return errors.New("db down") }),
		SinkFunc(func(_ context.Context, run entity.ExtractionRun) error {
			published = append(published, run)
			return nil
		}),
	}

	run, err := h.proc.RunExtraction(context.Background(), h.csv("d9", semicolonCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, constants.RunStatusSucceeded, run.Status)
	require.Len(t, published, 1)
	assert.Equal(t, run.ID, published[0].ID)
}

func TestRunExtractionCanceledCallerDiscardsResult(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	ctx, cancel := context.WithCancel(context.Background())
	h.text.result = func(extract.Source) extract.Result {
		cancel()
		out := canonical.New()
		out.Lines = []canonical.Line{{LineNumber: 1, CustomerSKU: canonical.Str("ABC-1")}}
		return extract.Result{Success: true, Output: out, Metrics: extract.Metrics{LLMCalls: 1}}
	}

	run, err := h.proc.RunExtraction(ctx, h.csv("d10", "sku;qty\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.RunStatusFailed, run.Status)
	assert.Equal(t, string(common.CodeCanceled), run.Error.Code)
	assert.True(t, run.Error.Retryable)
	require.Len(t, h.sink.runs, 1, "terminal record still written")
	_, hit := h.cache.Get(context.Background(), cache.Key("acme", []byte("sku;qty\n")))
	assert.False(t, hit)
}

func TestRunCarriesLayoutFingerprint(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	doc := h.csv("fp", semicolonCSV)

	want, err := h.proc.Fingerprint(context.Background(), doc)
	require.NoError(t, err)
	run, err := h.proc.RunExtraction(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, want, run.LayoutFingerprint)
	require.Len(t, h.sink.runs, 1)
	assert.Equal(t, want, h.sink.runs[0].LayoutFingerprint)

	h.text.result = func(extract.Source) extract.Result {
		return extract.Result{Err: common.NewAppError(common.CodeTimeout, "deadline", nil)}
	}
	failed, err := h.proc.RetryExtraction(context.Background(), doc, true)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusFailed, failed.Status)
	assert.Equal(t, want, failed.LayoutFingerprint)
}

func TestRunLogsCarryRequestID(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	var buf bytes.Buffer
	h.proc.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := common.WithRequestID(context.Background(), "req-42")
	run, err := h.proc.RunExtraction(ctx, h.csv("rid", semicolonCSV))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"req_id":"req-42"`)
	assert.Contains(t, buf.String(), `"run_id":"`+run.ID.String()+`"`)
}

func TestFingerprintIsStableAcrossSameLayout(t *testing.T) {
	h := newHarness(t, tenant.DefaultPolicy(), budget.Pricing{})
	a, err := h.proc.Fingerprint(context.Background(), h.csv("f1", "sku;qty;price\nABC-1;10;1,50\nABC-2;5;2,00\n"))
	require.NoError(t, err)
	b, err := h.proc.Fingerprint(context.Background(), h.csv("f2", "sku;qty;price\nXYZ-1;11;1,70\nXYZ-2;6;2,10\n"))
	require.NoError(t, err)
	assert.Len(t, a, 16)
	assert.Equal(t, a, b)

	doc := h.csv("f3", semicolonCSV)
	doc.LayoutFingerprint = "preset"
	c, err := h.proc.Fingerprint(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "preset", c)
}
