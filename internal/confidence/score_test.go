package confidence

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

func qty(v float64) *float64 { return &v }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestScoreEmptyIsZero(t *testing.T) {
	out := canonical.New()
	out.Order.OrderNumber = canonical.Str("PO-1")
	conf, _ := Score(out, Penalties{})
	assert.Equal(t, 0.0, conf.Overall)
	assert.InDelta(t, 0.333, conf.Header, 1e-9)
}

func TestScoreFormula(t *testing.T) {
	tests := []struct {
		name  string
		out   *canonical.Output
		want  float64
		lines float64
	}{
		{
			name: "sku qty price, no header",
			out: &canonical.Output{Lines: []canonical.Line{
				{CustomerSKU: canonical.Str("ABC-1"), Quantity: qty(10), UnitPrice: price("1.50")},
				{CustomerSKU: canonical.Str("ABC-2"), Quantity: qty(5), UnitPrice: price("2.00")},
			}},
			want:  0.6,
			lines: 1,
		},
		{
			name: "full header, half lines",
			out: &canonical.Output{
				Order: canonical.Header{OrderNumber: canonical.Str("1"), OrderDate: canonical.Str("2026-01-01"), Currency: canonical.Str("EUR")},
				Lines: []canonical.Line{
					{CustomerSKU: canonical.Str("A"), Quantity: qty(1), Description: canonical.Str("Bolt")},
					{Description: canonical.Str("Nut")},
				},
			},
			want:  0.4 + 0.6*((1.0+1.0/3)/2),
			lines: (1.0 + 1.0/3) / 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, perLine := Score(tt.out, Penalties{})
			assert.InDelta(t, tt.want, conf.Overall, 0.0006)
			assert.InDelta(t, tt.lines, conf.Lines, 0.0006)
			assert.Len(t, perLine, len(tt.out.Lines))
		})
	}
}

func TestScorePenalties(t *testing.T) {
	out := &canonical.Output{Lines: []canonical.Line{
		{CustomerSKU: canonical.Str("A"), Quantity: qty(1), Description: canonical.Str("x")},
		{CustomerSKU: canonical.Str("B"), Quantity: qty(1), Description: canonical.Str("y")},
	}}

	conf, perLine := Score(out, Penalties{Line: []float64{1, 0.5}})
	assert.Equal(t, []float64{1, 0.5}, perLine)
	assert.InDelta(t, 0.45, conf.Overall, 1e-9)

	conf, _ = Score(out, Penalties{Overall: 0.7})
	assert.InDelta(t, 0.42, conf.Overall, 1e-9)

	conf, _ = Score(out, Penalties{Cap: 0.55})
	assert.InDelta(t, 0.55, conf.Overall, 1e-9)
}

func TestScoreNeverZeroWithLines(t *testing.T) {
	out := &canonical.Output{Lines: []canonical.Line{{Unit: canonical.Str("PCE")}}}
	conf, _ := Score(out, Penalties{})
	assert.Greater(t, conf.Overall, 0.0)
	assert.LessOrEqual(t, conf.Overall, 1.0)
}

func TestApplyWritesLineConfidence(t *testing.T) {
	out := &canonical.Output{Lines: []canonical.Line{{CustomerSKU: canonical.Str("A")}}}
	overall := Apply(out, Penalties{})
	require.Equal(t, overall, out.Confidence.Overall)
	assert.InDelta(t, 0.333, out.Lines[0].Confidence, 1e-9)
}
