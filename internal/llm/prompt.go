package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// PromptInput carries everything a text or vision prompt is built from.
type PromptInput struct {
	Mode               Mode
	Email              entity.EmailContext
	Filename           string
	DefaultCurrency    string
	Units              []string
	CustomerReferences []string
	Examples           []entity.FeedbackExample
	// Prior is the rule-based output, offered as context only.
	Prior      *canonical.Output
	SourceText string
	// SourceCharLimit truncates SourceText; zero keeps everything.
	SourceCharLimit int
	// FirstPage and LastPage describe the vision batch, 1-based.
	FirstPage  int
	LastPage   int
	TotalPages int
}

// BuildSystemPrompt composes the instructions shared by every call of a run.
func BuildSystemPrompt(in PromptInput) string {
	cur := strings.ToUpper(strings.TrimSpace(in.DefaultCurrency))

	parts := []string{
		"You extract purchase orders into structured data. Return ONLY one JSON object matching the JSON Schema below.",
		"Top-level keys: 'order' (header) and 'lines' (line items, in document order).",
		"Copy customer SKUs and descriptions exactly as written; never translate, invent or complete them.",
		"Quantities are plain numbers. Unit prices are decimal numbers without currency symbols.",
		"Dates use ISO-8601 (YYYY-MM-DD).",
		"Use null for anything not present in the document.",
	}
	if cur != "" {
		parts = append(parts, "Currency is a 3-letter ISO 4217 code; if the document shows none, use null (the customer usually orders in "+cur+").")
	} else {
		parts = append(parts, "Currency is a 3-letter ISO 4217 code or null.")
	}
	if len(in.Units) > 0 {
		parts = append(parts, "Unit of measure must be one of: "+strings.Join(in.Units, ", ")+"; otherwise copy the document's unit verbatim.")
	}
	if refs := nonEmpty(in.CustomerReferences); len(refs) > 0 {
		parts = append(parts, "Known customer reference numbers (hints, not a closed list): "+strings.Join(refs, ", ")+".")
	}
	if in.Mode == ModeVision {
		parts = append(parts, "You are given page images. Read every table row on them; skip subtotal and total rows.")
	} else {
		parts = append(parts, "Skip subtotal, total, tax and shipping rows.")
	}
	parts = append(parts, "JSON Schema:\n"+canonical.SchemaJSON())
	return strings.Join(parts, "\n")
}

// BuildUserPrompt packages the per-document context.
func BuildUserPrompt(in PromptInput) string {
	var b strings.Builder
	if s := strings.TrimSpace(in.Email.Sender); s != "" {
		b.WriteString("Sender: " + s + "\n")
	}
	if s := strings.TrimSpace(in.Email.Subject); s != "" {
		b.WriteString("Subject: " + s + "\n")
	}
	if s := strings.TrimSpace(in.Filename); s != "" {
		b.WriteString("Filename: " + s + "\n")
	}

	if in.Mode == ModeVision {
		fmt.Fprintf(&b, "\nPages %d-%d of %d are attached as images.\n", in.FirstPage, in.LastPage, in.TotalPages)
		if in.FirstPage > 1 {
			b.WriteString("Earlier pages were sent separately; return only the lines on these pages.\n")
		}
	}

	if in.Prior != nil && len(in.Prior.Lines) > 0 {
		b.WriteString("\nA deterministic parser produced this draft; verify and complete it against the document:\n")
		b.WriteString(mustJSON(in.Prior))
		b.WriteString("\n")
	}

	if text := strings.TrimSpace(in.SourceText); text != "" {
		text, cut := truncateRunes(text, in.SourceCharLimit)
		b.WriteString("\nDocument text")
		if cut {
			fmt.Fprintf(&b, " (first %d characters)", in.SourceCharLimit)
		}
		b.WriteString(":\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	b.WriteString("\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// FewShot turns stored corrections into example pairs, keeping their order.
func FewShot(examples []entity.FeedbackExample, limit int) []Example {
	out := make([]Example, 0, min(len(examples), limit))
	for _, ex := range examples {
		if len(out) == limit {
			break
		}
		if strings.TrimSpace(ex.BeforeSnippet) == "" || strings.TrimSpace(ex.AfterSnippet) == "" {
			continue
		}
		out = append(out, Example{Input: ex.BeforeSnippet, Output: ex.AfterSnippet})
	}
	return out
}

// BuildRepairPrompt asks for a corrected document after a parse or validation failure.
func BuildRepairPrompt(previous, reason string, maxTokens int) Prompt {
	sys := strings.Join([]string{
		"You repair JSON documents. Return ONLY the corrected JSON object, nothing else.",
		"Keep every value that is already valid; change only what the error requires.",
		"JSON Schema:\n" + canonical.SchemaJSON(),
	}, "\n")

	var b strings.Builder
	b.WriteString("The previous response was rejected.\nError: ")
	b.WriteString(reason)
	b.WriteString("\n\nPrevious response:\n")
	b.WriteString(previous)
	return Prompt{System: sys, User: b.String(), MaxTokens: maxTokens}
}

func truncateRunes(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	r := []rune(s)
	return string(r[:limit]), true
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
