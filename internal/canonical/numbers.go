package canonical

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// cleanNumber keeps digits, signs and separators, then resolves the decimal separator.
// A comma becomes the decimal point only when the string is not already dot-formatted.
func cleanNumber(raw string) (string, bool) {
	var b strings.Builder
	digits := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			digits = true
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '-' || r == '+':
			b.WriteRune(r)
		}
	}
	if !digits {
		return "", false
	}
	s := b.String()

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return s, true
}

// ParseQuantity parses a locale-tolerant number ("1,50", "1.234,5", "10 pcs").
func ParseQuantity(raw string) (float64, bool) {
	s, ok := cleanNumber(raw)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDecimal is ParseQuantity for money values.
func ParseDecimal(raw string) (decimal.Decimal, bool) {
	s, ok := cleanNumber(raw)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
