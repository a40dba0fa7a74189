// Package canonical defines the structured order every extractor variant produces, together with
// the validator and normaliser that enforce it.
package canonical

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Header is the order-level part of the canonical output. Dates are ISO yyyy-mm-dd.
type Header struct {
	OrderNumber  *string `json:"order_number"`
	OrderDate    *string `json:"order_date"`
	Currency     *string `json:"currency"`
	DeliveryDate *string `json:"delivery_date"`
	Notes        *string `json:"notes"`
	ShippingHint *string `json:"shipping_hint"`
	BillingHint  *string `json:"billing_hint"`
}

// Line is one order line. Flags carries the per-line guard findings.
type Line struct {
	LineNumber  int              `json:"line_number"`
	CustomerSKU *string          `json:"customer_sku"`
	Description *string          `json:"description"`
	Quantity    *float64         `json:"quantity"`
	Unit        *string          `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Currency    *string          `json:"currency"`
	Confidence  float64          `json:"confidence"`
	Flags       []string         `json:"flags,omitempty"`
}

type Confidence struct {
	Overall float64 `json:"overall"`
	Header  float64 `json:"header"`
	Lines   float64 `json:"lines"`
}

// Output is the canonical extraction output.
type Output struct {
	Order      Header     `json:"order"`
	Lines      []Line     `json:"lines"`
	Confidence Confidence `json:"confidence"`
	Warnings   []string   `json:"warnings"`
}

// New returns an empty output with non-nil slices so it always serialises as arrays.
func New() *Output {
	return &Output{Lines: []Line{}, Warnings: []string{}}
}

// AddWarning appends code once.
func (o *Output) AddWarning(code string) {
	if !o.HasWarning(code) {
		o.Warnings = append(o.Warnings, code)
	}
}

func (o *Output) HasWarning(code string) bool {
	return slices.Contains(o.Warnings, code)
}

// Flag records a guard finding on the line.
func (l *Line) Flag(code string) {
	if !slices.Contains(l.Flags, code) {
		l.Flags = append(l.Flags, code)
	}
}

// IsEmpty reports a line that carries none of sku, quantity, description, unit price.
func (l Line) IsEmpty() bool {
	return l.CustomerSKU == nil && l.Quantity == nil && l.Description == nil && l.UnitPrice == nil
}

// Clone deep-copies the output so a terminal run never shares state with later mutation.
func (o *Output) Clone() *Output {
	if o == nil {
		return nil
	}
	c := &Output{
		Order:      Header{},
		Lines:      make([]Line, len(o.Lines)),
		Confidence: o.Confidence,
		Warnings:   slices.Clone(o.Warnings),
	}
	if c.Warnings == nil {
		c.Warnings = []string{}
	}
	c.Order = Header{
		OrderNumber:  cloneStr(o.Order.OrderNumber),
		OrderDate:    cloneStr(o.Order.OrderDate),
		Currency:     cloneStr(o.Order.Currency),
		DeliveryDate: cloneStr(o.Order.DeliveryDate),
		Notes:        cloneStr(o.Order.Notes),
		ShippingHint: cloneStr(o.Order.ShippingHint),
		BillingHint:  cloneStr(o.Order.BillingHint),
	}
	for i, l := range o.Lines {
		nl := l
		nl.CustomerSKU = cloneStr(l.CustomerSKU)
		nl.Description = cloneStr(l.Description)
		nl.Unit = cloneStr(l.Unit)
		nl.Currency = cloneStr(l.Currency)
		if l.Quantity != nil {
			q := *l.Quantity
			nl.Quantity = &q
		}
		if l.UnitPrice != nil {
			p := *l.UnitPrice
			nl.UnitPrice = &p
		}
		nl.Flags = slices.Clone(l.Flags)
		c.Lines[i] = nl
	}
	return c
}

// Str returns a pointer to the trimmed-non-empty s, or nil.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
