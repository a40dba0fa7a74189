// Package decision selects the extraction strategy for a document. Decide is pure: the same
// inputs always yield the same decision.
package decision

import "github.com/joseph-ayodele/order-extractor/constants"

// Strategy is the extraction path chosen for a run.
type Strategy string

const (
	RuleBased Strategy = "RULE_BASED"
	LLMText   Strategy = "LLM_TEXT"
	LLMVision Strategy = "LLM_VISION"
)

// IsLLM reports whether the strategy calls the model provider.
func (s Strategy) IsLLM() bool { return s == LLMText || s == LLMVision }

// Reasons recorded on the run metrics and metrics labels.
const (
	ReasonLowCoverage   = "low_text_coverage"
	ReasonForced        = "force_llm"
	ReasonRuleFailed    = "rule_failed"
	ReasonNoLines       = "no_lines"
	ReasonLowConfidence = "low_confidence"
	ReasonConfident     = "rule_confident"
	ReasonBudgetBlocked = "budget_blocked"
)

// BudgetState is the budget gate verdict; the zero value allows escalation.
type BudgetState struct {
	Blocked bool
	Reason  string
}

// Inputs are everything the decision depends on.
type Inputs struct {
	TextCoverage float64
	// RuleSucceeded is false when the rule-based extractor errored or was not applicable.
	RuleSucceeded  bool
	RuleConfidence float64
	RuleLineCount  int
	ForceLLM       bool
	Budget         BudgetState
}

// Thresholds are the tenant-tunable cut-offs.
type Thresholds struct {
	VisionCoverage       float64
	EscalationConfidence float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.VisionCoverage <= 0 {
		t.VisionCoverage = constants.VisionCoverageThreshold
	}
	if t.EscalationConfidence <= 0 {
		t.EscalationConfidence = constants.EscalationConfidence
	}
	return t
}

// Decision is the chosen strategy. Wanted is what the tree asked for before the budget gate;
// when the gate blocks an escalation Strategy falls back to RuleBased and BudgetBlocked is set.
type Decision struct {
	Strategy      Strategy
	Wanted        Strategy
	Reason        string
	BudgetBlocked bool
	BudgetReason  string
}

// SkipsRuleBased reports documents routed straight to vision.
func SkipsRuleBased(coverage float64, th Thresholds) bool {
	return coverage < th.withDefaults().VisionCoverage
}

// Decide evaluates the decision tree.
func Decide(in Inputs, th Thresholds) Decision {
	th = th.withDefaults()

	var d Decision
	switch {
	case in.TextCoverage < th.VisionCoverage:
		d = Decision{Wanted: LLMVision, Reason: ReasonLowCoverage}
	case in.ForceLLM:
		d = Decision{Wanted: LLMText, Reason: ReasonForced}
	case !in.RuleSucceeded:
		d = Decision{Wanted: LLMText, Reason: ReasonRuleFailed}
	case in.RuleLineCount == 0:
		d = Decision{Wanted: LLMText, Reason: ReasonNoLines}
	case in.RuleConfidence < th.EscalationConfidence:
		d = Decision{Wanted: LLMText, Reason: ReasonLowConfidence}
	default:
		d = Decision{Wanted: RuleBased, Reason: ReasonConfident}
	}

	d.Strategy = d.Wanted
	if d.Wanted.IsLLM() && in.Budget.Blocked {
		d.Strategy = RuleBased
		d.BudgetBlocked = true
		d.BudgetReason = in.Budget.Reason
	}
	return d
}
