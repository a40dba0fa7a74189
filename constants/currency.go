package constants

import "strings"

// AllowedCurrencies is the ISO 4217 allow-list accepted in canonical outputs.
var AllowedCurrencies = map[string]struct{}{
	"EUR": {}, "USD": {}, "GBP": {}, "CHF": {}, "SEK": {}, "NOK": {}, "DKK": {},
	"PLN": {}, "CZK": {}, "HUF": {}, "RON": {}, "CAD": {}, "AUD": {}, "JPY": {}, "CNY": {},
}

var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"US$": "USD",
	"£":   "GBP",
	"FR.": "CHF",
	"KČ":  "CZK",
	"ZŁ":  "PLN",
	"¥":   "JPY",
}

// CanonicalizeCurrency upper-cases a currency code or symbol and checks it against the allow-list.
func CanonicalizeCurrency(input string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}
	if code, ok := currencySymbols[s]; ok {
		s = code
	}
	_, ok := AllowedCurrencies[s]
	return s, ok
}
