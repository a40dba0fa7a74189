package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func orderText(customer string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order for %s\n", customer)
	b.WriteString("Pos  SKU      Description        Qty\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d  SK-%04d  Hex bolt M8 zinc  %d\n", i+1, i, i+3)
	}
	return b.String()
}

func TestSameTemplateCollides(t *testing.T) {
	a := Compute("", orderText("ACME", 12), 1)
	b := Compute("", orderText("Globex", 12), 1)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestDifferentShapeDiffers(t *testing.T) {
	base := Compute("", orderText("ACME", 12), 1)
	assert.NotEqual(t, base, Compute("", orderText("ACME", 12), 3))
	assert.NotEqual(t, base, Compute("", "Dear team,\nplease send the usual.\nThanks a lot for the quick turnaround on this order", 1))
}

func TestExistingFingerprintWins(t *testing.T) {
	assert.Equal(t, "cafe", Compute("cafe", orderText("ACME", 2), 1))
}

func TestTextlessDocumentHasNoFingerprint(t *testing.T) {
	assert.Empty(t, Compute("", "", 1))
	assert.Empty(t, Compute("", " \n\t\n", 3))
	assert.Equal(t, "cafe", Compute("cafe", "", 1))
}

func TestExtractFeatures(t *testing.T) {
	f := Extract(orderText("ACME", 20), 1)
	assert.True(t, f.Tabular)
	assert.Equal(t, 1, f.Pages)
	assert.Equal(t, 1, f.LineLengthBand)

	empty := Extract("", 0)
	assert.Equal(t, Features{}, empty)
}
