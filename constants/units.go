package constants

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unit is a canonical unit-of-measure code.
type Unit string

//go:embed units.yaml
var unitsYAML []byte

var (
	allUnits     []Unit
	unitSynonyms map[string]Unit
)

func init() {
	units, synonyms, err := loadUnitTable(unitsYAML)
	if err != nil {
		panic(fmt.Sprintf("constants: bad embedded unit table: %v", err))
	}
	allUnits, unitSynonyms = units, synonyms
}

func loadUnitTable(raw []byte) ([]Unit, map[string]Unit, error) {
	var table map[string][]string
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, nil, err
	}
	units := make([]Unit, 0, len(table))
	synonyms := make(map[string]Unit, len(table)*8)
	for code, words := range table {
		u := Unit(strings.ToUpper(code))
		units = append(units, u)
		synonyms[normalizeUnitKey(code)] = u
		for _, w := range words {
			key := normalizeUnitKey(w)
			if prev, dup := synonyms[key]; dup && prev != u {
				return nil, nil, fmt.Errorf("synonym %q maps to both %s and %s", w, prev, u)
			}
			synonyms[key] = u
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units, synonyms, nil
}

func normalizeUnitKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".")
}

// UnitsAsStringSlice returns the canonical unit vocabulary, sorted.
func UnitsAsStringSlice() []string {
	out := make([]string, len(allUnits))
	for i, u := range allUnits {
		out[i] = string(u)
	}
	return out
}

// CanonicalizeUnit maps a free-text unit onto the canonical code set.
func CanonicalizeUnit(input string) (Unit, bool) {
	if strings.TrimSpace(input) == "" {
		return "", false
	}
	u, ok := unitSynonyms[normalizeUnitKey(input)]
	return u, ok
}
