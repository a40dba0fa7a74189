// Package fingerprint hashes the structural shape of a document so recurring templates collide.
package fingerprint

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

const (
	lineLengthBucket = 20
	densityBucket    = 500
	maxDensityBucket = 10
	tableCellMin     = 3
	tableLineRatio   = 0.3
)

var reCellSep = regexp.MustCompile(`\s{2,}|\t|;|\|`)

// Features are the structural inputs of the hash.
type Features struct {
	Pages          int
	LineLengthBand int
	Tabular        bool
	DensityBand    int
}

func (f Features) String() string {
	return fmt.Sprintf("pages=%d|line=%d|table=%t|density=%d", f.Pages, f.LineLengthBand, f.Tabular, f.DensityBand)
}

// Extract derives features from document text and its page count.
func Extract(text string, pages int) Features {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	f := Features{Pages: pages}
	if len(lines) == 0 {
		return f
	}

	chars, tabular := 0, 0
	for _, l := range lines {
		chars += utf8.RuneCountInString(l)
		if len(reCellSep.Split(l, -1)) >= tableCellMin {
			tabular++
		}
	}
	f.LineLengthBand = (chars / len(lines)) / lineLengthBucket
	f.Tabular = float64(tabular)/float64(len(lines)) >= tableLineRatio

	perPage := chars
	if pages > 0 {
		perPage = chars / pages
	}
	f.DensityBand = min(perPage/densityBucket, maxDensityBucket)
	return f
}

// Hash is the hex xxhash of the features.
func Hash(f Features) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(f.String()))
}

// Compute returns existing when already set on the document, otherwise hashes the text. A
// document without text has no structural signal beyond its page count and gets no fingerprint.
func Compute(existing, text string, pages int) string {
	if existing != "" {
		return existing
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return Hash(Extract(text, pages))
}
