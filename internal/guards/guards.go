// Package guards applies the post-validation hallucination checks. Guards only penalise: lines
// are never dropped, so a flagged result is still reviewable.
package guards

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/confidence"
)

// Source is what the output is checked against.
type Source struct {
	Text      string
	PageCount int
}

// Options select which guards run.
type Options struct {
	MaxQuantity float64
	Anchors     bool
	Volume      bool
}

// Report summarises the guard findings.
type Report struct {
	LinePenalties   []float64
	OverallPenalty  float64
	AnchorsChecked  bool
	AnchorFailures  int
	RangeViolations int
	VolumeFlagged   bool
	Suspicious      bool
}

// Penalties converts the report for the confidence scorer.
func (r Report) Penalties() confidence.Penalties {
	p := confidence.Penalties{Line: r.LinePenalties, Overall: r.OverallPenalty}
	if r.Suspicious {
		p.Cap = constants.SuspiciousConfidenceCap
	}
	return p
}

// Apply runs the guards on out, nulling out-of-range quantities and appending warnings.
func Apply(out *canonical.Output, src Source, opts Options) Report {
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = constants.DefaultMaxQuantity
	}
	r := Report{LinePenalties: make([]float64, len(out.Lines)), OverallPenalty: 1}
	for i := range r.LinePenalties {
		r.LinePenalties[i] = 1
	}

	r.RangeViolations = RangeCheck(out, opts.MaxQuantity)

	if opts.Anchors {
		haystack := squash(src.Text)
		if haystack != "" {
			r.AnchorsChecked = true
			for i := range out.Lines {
				if anchored(out.Lines[i], haystack) {
					continue
				}
				r.AnchorFailures++
				r.LinePenalties[i] = constants.AnchorPenalty
				out.Lines[i].Flag(constants.WarnAnchorFailed)
				out.AddWarning(constants.WarnAnchorFailed)
			}
		}
	}

	if opts.Volume && VolumeSuspicious(len(out.Lines), src.PageCount) {
		r.VolumeFlagged = true
		r.OverallPenalty = constants.VolumePenalty
		out.AddWarning(constants.WarnVolumeSuspicious)
	}

	anchorRatio := 0.0
	if len(out.Lines) > 0 {
		anchorRatio = float64(r.AnchorFailures) / float64(len(out.Lines))
	}
	r.Suspicious = r.VolumeFlagged || (r.AnchorFailures > 0 && anchorRatio >= constants.SuspiciousAnchorRatio)
	if r.Suspicious {
		out.AddWarning(constants.WarnSuspiciousOutput)
	}
	return r
}

// RangeCheck nulls quantities outside (0, max] and returns how many were nulled.
func RangeCheck(out *canonical.Output, max float64) int {
	n := 0
	for i := range out.Lines {
		q := out.Lines[i].Quantity
		if q == nil || (*q > 0 && *q <= max) {
			continue
		}
		out.Lines[i].Quantity = nil
		out.Lines[i].Flag(constants.WarnQuantityOutOfRange)
		out.AddWarning(constants.WarnQuantityOutOfRange)
		n++
	}
	return n
}

// VolumeSuspicious flags many lines on a short document. Unknown page counts never fire.
func VolumeSuspicious(lines, pages int) bool {
	return lines > constants.VolumeLineThreshold && pages > 0 && pages <= constants.VolumeMaxPages
}

// anchored reports whether the SKU, a long description token or the quantity appears in source.
func anchored(l canonical.Line, haystack string) bool {
	if l.CustomerSKU != nil {
		if s := squash(*l.CustomerSKU); s != "" && strings.Contains(haystack, s) {
			return true
		}
	}
	if l.Description != nil {
		for _, tok := range strings.Fields(*l.Description) {
			if utf8.RuneCountInString(tok) < constants.AnchorMinTokenLength {
				continue
			}
			if strings.Contains(haystack, squash(tok)) {
				return true
			}
		}
	}
	if l.Quantity != nil {
		for _, rendered := range renderQuantity(*l.Quantity) {
			if strings.Contains(haystack, rendered) {
				return true
			}
		}
	}
	return false
}

func renderQuantity(q float64) []string {
	dot := strconv.FormatFloat(q, 'f', -1, 64)
	comma := strings.Replace(dot, ".", ",", 1)
	if comma == dot {
		return []string{dot}
	}
	return []string{dot, comma}
}

// squash lower-cases and removes all whitespace for case/whitespace-insensitive matching.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
