package budget

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/decision"
	"github.com/joseph-ayodele/order-extractor/internal/tenant"
)

// Block reasons.
const (
	ReasonMaxPages          = "max_pages"
	ReasonMaxTokens         = "max_tokens"
	ReasonDailyCeiling      = "daily_spend_ceiling"
	ReasonLedgerUnavailable = "ledger_unavailable"
)

// promptOverheadTokens covers instructions, schema, vocabulary and few-shot examples.
const promptOverheadTokens = 1500

// Estimate is the projected cost of an escalation.
type Estimate struct {
	Pages   int
	Tokens  int
	CostUSD float64
}

// Pricing is the provider price list used for estimates.
type Pricing struct {
	InputPer1KUSD  float64
	OutputPer1KUSD float64
}

func (p Pricing) cost(in, out int) float64 {
	return float64(in)/1000*p.InputPer1KUSD + float64(out)/1000*p.OutputPer1KUSD
}

// EstimateText projects a text escalation from the number of source characters.
func EstimateText(sourceChars, pages, maxOutputTokens int, p Pricing) Estimate {
	in := sourceChars/4 + promptOverheadTokens
	return Estimate{Pages: pages, Tokens: in + maxOutputTokens, CostUSD: p.cost(in, maxOutputTokens)}
}

// EstimateVision projects a vision escalation at constants.VisionTokensPerPage per page.
func EstimateVision(pages, maxOutputTokens int, p Pricing) Estimate {
	if pages <= 0 {
		pages = 1
	}
	in := pages*constants.VisionTokensPerPage + promptOverheadTokens
	return Estimate{Pages: pages, Tokens: in + maxOutputTokens, CostUSD: p.cost(in, maxOutputTokens)}
}

// Gate checks an escalation estimate against the tenant policy and today's spend.
type Gate struct {
	logger *slog.Logger
	ledger SpendLedger
	now    func() time.Time
}

func NewGate(logger *slog.Logger, ledger SpendLedger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Gate{logger: logger, ledger: ledger, now: time.Now}
}

// Check returns the budget state for the escalation. A ledger failure blocks (fail closed) and
// is also returned as the error.
func (g *Gate) Check(ctx context.Context, policy tenant.Policy, tenantID string, est Estimate) (decision.BudgetState, error) {
	if policy.MaxPages > 0 && est.Pages > policy.MaxPages {
		return g.block(tenantID, ReasonMaxPages, est), nil
	}
	if policy.MaxTokens > 0 && est.Tokens > policy.MaxTokens {
		return g.block(tenantID, ReasonMaxTokens, est), nil
	}
	if policy.DailySpendCeilingUSD <= 0 {
		return decision.BudgetState{}, nil
	}
	spent, err := g.ledger.SpentToday(ctx, tenantID, g.now())
	if err != nil {
		g.logger.Error("budget.ledger.read_failed", "tenant_id", tenantID, "error", err)
		return decision.BudgetState{Blocked: true, Reason: ReasonLedgerUnavailable}, err
	}
	if spent+est.CostUSD > policy.DailySpendCeilingUSD {
		return g.block(tenantID, ReasonDailyCeiling, est), nil
	}
	return decision.BudgetState{}, nil
}

// Record adds actual spend after a provider call.
func (g *Gate) Record(ctx context.Context, tenantID string, usd float64) error {
	return g.ledger.Add(ctx, tenantID, g.now(), usd)
}

func (g *Gate) block(tenantID, reason string, est Estimate) decision.BudgetState {
	g.logger.Info("budget.escalation.blocked",
		"tenant_id", tenantID,
		"reason", reason,
		"est_pages", est.Pages,
		"est_tokens", est.Tokens,
		"est_cost_usd", est.CostUSD,
	)
	return decision.BudgetState{Blocked: true, Reason: reason}
}
