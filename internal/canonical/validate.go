package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/order-extractor/constants"
)

// ValidationError explains why raw structured data was rejected. The message is fed back to the
// provider verbatim during repair.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "canonical output invalid: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err (or anything it wraps) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Options tune validation and normalisation.
type Options struct {
	// MaxLines caps the line list. Defaults to constants.DefaultMaxLines.
	MaxLines int
	// SourceLineCount is how many lines the source plausibly holds. When it reaches MaxLines an
	// oversize output is trimmed with a warning instead of rejected.
	SourceLineCount int
}

func (o Options) maxLines() int {
	if o.MaxLines <= 0 {
		return constants.DefaultMaxLines
	}
	return o.MaxLines
}

// Validate parses raw JSON into a normalised canonical output or returns a *ValidationError.
func Validate(raw []byte, opts Options) (*Output, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("not valid JSON: %v", err)
	}

	top, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("top-level value must be an object")
	}
	for _, key := range []string{"order", "lines"} {
		if _, ok := top[key]; !ok {
			return nil, invalid("missing required key %q", key)
		}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, invalid("%s", schemaMessage(verr))
		}
		return nil, invalid("%v", err)
	}

	rawLines, _ := top["lines"].([]any)
	max := opts.maxLines()
	truncated := false
	if len(rawLines) > max {
		if opts.SourceLineCount < max {
			return nil, invalid("%d lines exceeds the maximum of %d", len(rawLines), max)
		}
		rawLines = rawLines[:max]
		truncated = true
	}

	out := New()
	if order, ok := top["order"].(map[string]any); ok {
		if out.Order, err = decodeHeader(order); err != nil {
			return nil, err
		}
	}
	for i, item := range rawLines {
		m, _ := item.(map[string]any)
		line, err := decodeLine(m)
		if err != nil {
			return nil, invalid("lines[%d]: %v", i, err)
		}
		out.Lines = append(out.Lines, line)
	}
	if truncated {
		out.AddWarning(constants.WarnLinesTruncated)
	}

	Normalize(out, opts)
	return out, nil
}

func schemaMessage(verr *jsonschema.ValidationError) string {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, leaf.Message)
}

func decodeHeader(m map[string]any) (Header, error) {
	h := Header{
		OrderNumber:  stringField(m, "order_number"),
		Currency:     stringField(m, "currency"),
		Notes:        stringField(m, "notes"),
		ShippingHint: stringField(m, "shipping_hint"),
		BillingHint:  stringField(m, "billing_hint"),
	}
	for key, dst := range map[string]**string{"order_date": &h.OrderDate, "delivery_date": &h.DeliveryDate} {
		s := stringField(m, key)
		if s == nil {
			continue
		}
		iso, ok := ParseDate(*s)
		if !ok {
			return Header{}, invalid("order.%s: unparseable date %q", key, *s)
		}
		*dst = &iso
	}
	return h, nil
}

func decodeLine(m map[string]any) (Line, error) {
	line := Line{
		CustomerSKU: stringField(m, "customer_sku"),
		Description: stringField(m, "description"),
		Unit:        stringField(m, "unit"),
		Currency:    stringField(m, "currency"),
	}
	if n, ok := m["line_number"].(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			line.LineNumber = int(i)
		}
	}
	if n, ok := m["quantity"].(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return Line{}, fmt.Errorf("quantity %q is not numeric", n)
		}
		line.Quantity = &f
	}
	switch p := m["unit_price"].(type) {
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		if err != nil {
			return Line{}, fmt.Errorf("unit_price %q is not numeric", p)
		}
		line.UnitPrice = &d
	case string:
		if strings.TrimSpace(p) != "" {
			d, ok := ParseDecimal(p)
			if !ok {
				return Line{}, fmt.Errorf("unit_price %q is not numeric", p)
			}
			line.UnitPrice = &d
		}
	}
	return line, nil
}

func stringField(m map[string]any, key string) *string {
	switch v := m[key].(type) {
	case string:
		return Str(v)
	case json.Number:
		return Str(v.String())
	}
	return nil
}
