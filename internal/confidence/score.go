// Package confidence scores canonical outputs from header and line completeness.
package confidence

import (
	"math"

	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

const (
	headerWeight = 0.4
	linesWeight  = 0.6
	// nonEmptyFloor keeps "confidence is 0 iff there are no lines" true after penalties.
	nonEmptyFloor = 0.001
)

// Penalties are multiplicative adjustments applied by the hallucination guards.
type Penalties struct {
	// Line holds a multiplier per line index; absent or zero entries count as 1.
	Line []float64
	// Overall multiplies the final score; zero counts as 1.
	Overall float64
	// Cap bounds the final score when positive.
	Cap float64
}

// Score computes the confidence of out without mutating it.
func Score(out *canonical.Output, p Penalties) (canonical.Confidence, []float64) {
	if out == nil {
		return canonical.Confidence{}, nil
	}
	header := headerCompleteness(out.Order)
	if len(out.Lines) == 0 {
		return canonical.Confidence{Header: round3(header)}, nil
	}

	perLine := make([]float64, len(out.Lines))
	var sum float64
	for i, line := range out.Lines {
		c := lineCompleteness(line)
		if i < len(p.Line) && p.Line[i] > 0 {
			c *= p.Line[i]
		}
		perLine[i] = round3(c)
		sum += c
	}
	lines := sum / float64(len(out.Lines))

	overall := headerWeight*header + linesWeight*lines
	if p.Overall > 0 {
		overall *= p.Overall
	}
	if p.Cap > 0 && overall > p.Cap {
		overall = p.Cap
	}
	overall = math.Max(round3(overall), nonEmptyFloor)

	return canonical.Confidence{
		Overall: math.Min(overall, 1),
		Header:  round3(header),
		Lines:   round3(lines),
	}, perLine
}

// Apply scores out and writes the result into it.
func Apply(out *canonical.Output, p Penalties) float64 {
	conf, perLine := Score(out, p)
	out.Confidence = conf
	for i := range out.Lines {
		out.Lines[i].Confidence = perLine[i]
	}
	return conf.Overall
}

// Required header fields: order number, order date, currency.
func headerCompleteness(h canonical.Header) float64 {
	present := 0
	for _, f := range []*string{h.OrderNumber, h.OrderDate, h.Currency} {
		if f != nil && *f != "" {
			present++
		}
	}
	return float64(present) / 3
}

// Line slots are sku, quantity and detail, where detail is a description or, lacking one,
// a unit price.
func lineCompleteness(l canonical.Line) float64 {
	present := 0
	if l.CustomerSKU != nil && *l.CustomerSKU != "" {
		present++
	}
	if l.Quantity != nil {
		present++
	}
	if (l.Description != nil && *l.Description != "") || l.UnitPrice != nil {
		present++
	}
	return float64(present) / 3
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
