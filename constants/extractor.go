package constants

// Extractor variants. Versioned so that a run record always says which code produced it.
const (
	VariantSpreadsheet = "spreadsheet-v1"
	VariantDelimited   = "delimited-v1"
	VariantTextPDF     = "pdf-text-v1"
	VariantLLMText     = "llm-text-v1"
	VariantLLMVision   = "llm-vision-v1"
	VariantNone        = "none"
)

// PipelineVersion is folded into result cache keys; bump it when extraction logic changes.
const PipelineVersion = "orderex-2026.10"

// Decision engine defaults (tunable per tenant).
const (
	VisionCoverageThreshold     = 0.15
	EscalationConfidence        = 0.60
	TextPDFMinCoverage          = 0.15
	DefaultMaxLines             = 500
	DefaultMaxQuantity          = 1_000_000
	DefaultFewShotExamples      = 3
	VisionTokensPerPage         = 1500
	DefaultVisionTokensPerBatch = 12000
)

// Hallucination guard constants.
const (
	AnchorPenalty           = 0.5
	AnchorMinTokenLength    = 8
	VolumeLineThreshold     = 200
	VolumeMaxPages          = 2
	VolumePenalty           = 0.7
	SuspiciousConfidenceCap = 0.55
	SuspiciousAnchorRatio   = 0.5
)
