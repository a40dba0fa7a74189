package extract

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical line field a table column can map to.
type Field string

const (
	FieldNone        Field = ""
	FieldLineNumber  Field = "line_number"
	FieldSKU         Field = "customer_sku"
	FieldDescription Field = "description"
	FieldQuantity    Field = "quantity"
	FieldUnit        Field = "unit"
	FieldUnitPrice   Field = "unit_price"
	FieldCurrency    Field = "currency"
)

// FuzzyColumnThreshold is the minimum Levenshtein similarity for a header cell to match a synonym.
const FuzzyColumnThreshold = 0.82

// Order matters for single-word matching: "unit price" must resolve to a price before a unit.
var fieldOrder = []Field{FieldUnitPrice, FieldQuantity, FieldSKU, FieldDescription, FieldCurrency, FieldUnit, FieldLineNumber}

var columnSynonyms = map[Field][]string{
	FieldLineNumber: {"pos", "position", "line", "line no", "ln", "#", "zeile", "ligne", "linea", "riga"},
	FieldSKU: {
		"sku", "customer sku", "article", "article no", "article number", "art no", "art nr", "artikel",
		"artikelnummer", "artikel nr", "artnr", "item", "item no", "item number", "item code", "product code",
		"part number", "part no", "material", "materialnummer", "material no", "reference", "ref", "code",
		"codigo", "referencia", "codice", "articolo", "codice articolo", "your ref",
	},
	FieldDescription: {
		"description", "desc", "name", "product", "product name", "item description", "bezeichnung",
		"beschreibung", "artikelbezeichnung", "designation", "libelle", "descripcion", "descrizione",
		"denominazione", "text",
	},
	FieldQuantity: {
		"qty", "quantity", "qnty", "order qty", "ordered", "qte", "quantite", "menge", "anzahl", "bestellmenge",
		"cantidad", "cant", "quantita", "qta", "aantal",
	},
	FieldUnit: {"unit", "uom", "unit of measure", "einheit", "me", "unite", "unidad", "unita", "um", "eh"},
	FieldUnitPrice: {
		"price", "unit price", "net price", "preis", "einzelpreis", "stuckpreis", "nettopreis", "ep", "prix",
		"prix unitaire", "pu", "precio", "precio unitario", "prezzo", "prezzo unitario",
	},
	FieldCurrency: {"currency", "curr", "cur", "wahrung", "devise", "moneda", "valuta"},
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeHeader lower-cases, strips accents and reduces punctuation to single spaces.
func normalizeHeader(s string) string {
	folded, _, err := transform.String(foldAccents, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		folded = strings.ToLower(strings.TrimSpace(s))
	}
	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

var synonymIndex = func() map[string]Field {
	idx := make(map[string]Field)
	for field, syns := range columnSynonyms {
		for _, s := range syns {
			idx[normalizeHeader(s)] = field
		}
	}
	return idx
}()

// MatchColumn maps a header cell to a canonical field: exact synonym, then fuzzy similarity,
// then any single word that is itself a synonym.
func MatchColumn(header string) Field {
	h := normalizeHeader(header)
	if h == "" {
		return FieldNone
	}
	if f, ok := synonymIndex[h]; ok {
		return f
	}

	best, bestScore := FieldNone, 0.0
	for _, field := range fieldOrder {
		for _, syn := range columnSynonyms[field] {
			s := normalizeHeader(syn)
			if len(s) < 3 {
				continue
			}
			if score := levenshtein.Similarity(h, s, nil); score >= FuzzyColumnThreshold && score > bestScore {
				best, bestScore = field, score
			}
		}
	}
	if best != FieldNone {
		return best
	}

	words := strings.Fields(h)
	for _, field := range fieldOrder {
		for _, w := range words {
			if len(w) < 2 {
				continue
			}
			if f, ok := synonymIndex[w]; ok && f == field {
				return field
			}
		}
	}
	return FieldNone
}

// mapColumns maps each header cell; a field is taken by the first column that claims it.
func mapColumns(header []string) map[int]Field {
	cols := make(map[int]Field)
	taken := make(map[Field]bool)
	for i, cell := range header {
		f := MatchColumn(cell)
		if f == FieldNone || taken[f] {
			continue
		}
		cols[i] = f
		taken[f] = true
	}
	return cols
}
