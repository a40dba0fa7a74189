package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

const datePattern = `(\d{1,4}[./-]\d{1,2}[./-]\d{2,4})`

var (
	reOrderNumber  = regexp.MustCompile(`(?i)\b(?:order\s*(?:no|nr|number|#)|purchase\s+order(?:\s*(?:no|number))?|p\.?o\.?\s*(?:no|number|#)|bestellnummer|bestell-?\s*nr|auftragsnummer|auftrags-?\s*nr|n°\s*de\s*commande|num[eé]ro\s*de\s*commande|bon\s*de\s*commande|n[uú]mero\s*de\s*pedido|pedido|numero\s*ordine|ordine\s*n)\.?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-/_.]*\d[A-Za-z0-9\-/_]*)`)
	reDeliveryDate = regexp.MustCompile(`(?i)(?:delivery\s+date|requested\s+delivery|liefertermin|lieferdatum|wunschtermin|date\s+de\s+livraison|fecha\s+de\s+entrega|data\s+di\s+consegna)\s*[:]?\s*` + datePattern)
	reOrderDate    = regexp.MustCompile(`(?i)\b(?:order\s+date|bestelldatum|datum|date|fecha|data)\b\s*[:]?\s*` + datePattern)
	reCurrency     = regexp.MustCompile(`\b(` + strings.Join(sortedCurrencies(), "|") + `)\b`)
	reCurrencyMark = regexp.MustCompile(`€|£|US\$`)
)

func sortedCurrencies() []string {
	codes := make([]string, 0, len(constants.AllowedCurrencies))
	for c := range constants.AllowedCurrencies {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// parseHeader pulls order-level fields out of free text preceding or surrounding a table.
func parseHeader(text string) canonical.Header {
	var h canonical.Header
	if m := reOrderNumber.FindStringSubmatch(text); m != nil {
		h.OrderNumber = canonical.Str(strings.TrimRight(m[1], "."))
	}

	rest := text
	if loc := reDeliveryDate.FindStringSubmatchIndex(text); loc != nil {
		h.DeliveryDate = canonical.Str(text[loc[2]:loc[3]])
		rest = text[:loc[0]] + text[loc[1]:]
	}
	if m := reOrderDate.FindStringSubmatch(rest); m != nil {
		h.OrderDate = canonical.Str(m[1])
	}

	h.Currency = detectCurrency(text)
	return h
}

// detectCurrency returns the first allow-listed code, falling back to a currency symbol.
func detectCurrency(text string) *string {
	if m := reCurrency.FindString(text); m != "" {
		return canonical.Str(m)
	}
	if m := reCurrencyMark.FindString(text); m != "" {
		if code, ok := constants.CanonicalizeCurrency(m); ok {
			return canonical.Str(code)
		}
	}
	return nil
}

// mergeHeader fills empty fields of dst from src.
func mergeHeader(dst *canonical.Header, src canonical.Header) {
	fill := func(d **string, s *string) {
		if *d == nil && s != nil {
			*d = s
		}
	}
	fill(&dst.OrderNumber, src.OrderNumber)
	fill(&dst.OrderDate, src.OrderDate)
	fill(&dst.Currency, src.Currency)
	fill(&dst.DeliveryDate, src.DeliveryDate)
	fill(&dst.Notes, src.Notes)
	fill(&dst.ShippingHint, src.ShippingHint)
	fill(&dst.BillingHint, src.BillingHint)
}
