package canonical

import (
	"strings"

	"github.com/joseph-ayodele/order-extractor/constants"
)

// Normalize canonicalises units, currencies and dates, drops empty lines, trims to the line
// cap and renumbers lines 1..n in slice order. Values that cannot be canonicalised are nulled
// and reported as warnings.
func Normalize(out *Output, opts Options) {
	if out.Lines == nil {
		out.Lines = []Line{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}

	out.Order.Currency = normalizeCurrency(out, out.Order.Currency)
	out.Order.OrderDate = normalizeDate(out.Order.OrderDate)
	out.Order.DeliveryDate = normalizeDate(out.Order.DeliveryDate)

	kept := out.Lines[:0]
	for _, line := range out.Lines {
		if line.IsEmpty() {
			out.AddWarning(constants.WarnEmptyLineDropped)
			continue
		}
		if line.Unit != nil {
			if unit, ok := constants.CanonicalizeUnit(*line.Unit); ok {
				code := string(unit)
				line.Unit = &code
			} else {
				line.Unit = nil
				out.AddWarning(constants.WarnUnitUnknown)
			}
		}
		line.Currency = normalizeCurrency(out, line.Currency)
		kept = append(kept, line)
	}
	out.Lines = kept

	if max := opts.maxLines(); len(out.Lines) > max {
		out.Lines = out.Lines[:max]
		out.AddWarning(constants.WarnLinesTruncated)
	}
	for i := range out.Lines {
		out.Lines[i].LineNumber = i + 1
	}
}

func normalizeCurrency(out *Output, cur *string) *string {
	if cur == nil || strings.TrimSpace(*cur) == "" {
		return nil
	}
	code, ok := constants.CanonicalizeCurrency(*cur)
	if !ok {
		out.AddWarning(constants.WarnCurrencyUnknown)
		return nil
	}
	return &code
}

// Unparseable dates are dropped.
func normalizeDate(d *string) *string {
	if d == nil {
		return nil
	}
	iso, ok := ParseDate(*d)
	if !ok {
		return nil
	}
	return &iso
}
