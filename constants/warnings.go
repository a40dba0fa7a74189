package constants

// Warning codes attached to a canonical output. Stable strings, surfaced to reviewers.
const (
	WarnLinesTruncated     = "LINES_TRUNCATED"
	WarnEmptyLineDropped   = "EMPTY_LINE_DROPPED"
	WarnUnitUnknown        = "UNIT_UNKNOWN"
	WarnCurrencyUnknown    = "CURRENCY_UNKNOWN"
	WarnAnchorFailed       = "ANCHOR_CHECK_FAILED"
	WarnQuantityOutOfRange = "QUANTITY_OUT_OF_RANGE"
	WarnVolumeSuspicious   = "VOLUME_CHECK_FAILED"
	WarnSuspiciousOutput   = "LLM_SUSPICIOUS_OUTPUT"
	WarnBudgetExceeded     = "BUDGET_EXCEEDED"
	WarnHeaderRowDefaulted = "HEADER_ROW_DEFAULTED"
	WarnRuleBasedFailed    = "RULE_BASED_FAILED"
)
