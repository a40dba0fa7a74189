package extract

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// Kerning adjustments in TJ arrays below this (in thousandths of an em) are treated as a space.
const tjSpaceThreshold = -200

type pdfToken struct {
	kind  byte // 's' string, 'n' number, '/' name, 'o' operator, '[' / ']' array bounds
	text  string
	value float64
}

// pdfPageText renders a page content stream as text lines. Text shown on a new baseline starts
// a new line and text moved along the same baseline is separated by a two-space column gap, so
// tables survive as whitespace-separated cells.
func pdfPageText(stream []byte) string {
	var (
		b       strings.Builder
		operand []pdfToken
		inArray bool
		array   []pdfToken
		curY    float64
		shownY  *float64
		moved   bool
		breakLn bool
	)
	show := func(text string) {
		if text == "" {
			return
		}
		s := b.String()
		switch {
		case s == "":
		case breakLn || (shownY != nil && math.Abs(curY-*shownY) > 0.5):
			if !strings.HasSuffix(s, "\n") {
				b.WriteByte('\n')
			}
		case moved && !strings.HasSuffix(s, "  "):
			b.WriteString("  ")
		}
		b.WriteString(text)
		y := curY
		shownY = &y
		moved, breakLn = false, false
	}

	for _, tok := range tokenizePDF(stream) {
		switch tok.kind {
		case '[':
			inArray, array = true, array[:0]
			continue
		case ']':
			inArray = false
			continue
		}
		if inArray {
			array = append(array, tok)
			continue
		}
		if tok.kind != 'o' {
			operand = append(operand, tok)
			continue
		}

		switch tok.text {
		case "BT":
			curY, moved = 0, true
		case "Td", "TD":
			if len(operand) >= 2 {
				curY += operand[len(operand)-1].value
				moved = true
			}
		case "Tm":
			if len(operand) >= 6 {
				curY = operand[len(operand)-1].value
				moved = true
			}
		case "T*":
			breakLn = true
		case "Tj":
			show(lastString(operand))
		case "'", `"`:
			breakLn = true
			show(lastString(operand))
		case "TJ":
			var sb strings.Builder
			for _, el := range array {
				switch el.kind {
				case 's':
					sb.WriteString(el.text)
				case 'n':
					if el.value < tjSpaceThreshold {
						sb.WriteByte(' ')
					}
				}
			}
			show(sb.String())
		}
		operand = operand[:0]
	}
	return normalizePDFText(b.String())
}

func lastString(ops []pdfToken) string {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].kind == 's' {
			return ops[i].text
		}
	}
	return ""
}

// tokenizePDF splits a content stream into strings, numbers, array bounds and operators.
// Dictionaries and inline images are skipped.
func tokenizePDF(data []byte) []pdfToken {
	var toks []pdfToken
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isPDFSpace(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteralString(data[i:])
			toks = append(toks, pdfToken{kind: 's', text: s})
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i = skipDict(data, i)
		case c == '<':
			end := bytes.IndexByte(data[i:], '>')
			if end < 0 {
				return toks
			}
			toks = append(toks, pdfToken{kind: 's', text: decodeHexString(data[i+1 : i+end])})
			i += end + 1
		case c == '[' || c == ']':
			toks = append(toks, pdfToken{kind: c})
			i++
		case c == '/':
			j := i + 1
			for j < len(data) && !isPDFSpace(data[j]) && !isPDFDelim(data[j]) {
				j++
			}
			toks = append(toks, pdfToken{kind: '/', text: string(data[i:j])})
			i = j
		default:
			j := i
			for j < len(data) && !isPDFSpace(data[j]) && !isPDFDelim(data[j]) {
				j++
			}
			if j == i {
				i++
				continue
			}
			word := string(data[i:j])
			if v, err := strconv.ParseFloat(word, 64); err == nil {
				toks = append(toks, pdfToken{kind: 'n', value: v, text: word})
			} else {
				toks = append(toks, pdfToken{kind: 'o', text: word})
				if word == "BI" {
					if k := bytes.Index(data[j:], []byte("EI")); k >= 0 {
						j += k + 2
					}
				}
			}
			i = j
		}
	}
	return toks
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func skipDict(data []byte, i int) int {
	depth := 0
	for i < len(data) {
		if i+1 < len(data) && data[i] == '<' && data[i+1] == '<' {
			depth++
			i += 2
			continue
		}
		if i+1 < len(data) && data[i] == '>' && data[i+1] == '>' {
			depth--
			i += 2
			if depth == 0 {
				return i
			}
			continue
		}
		i++
	}
	return i
}

// readLiteralString decodes a balanced (...) string with escapes, returning bytes consumed.
func readLiteralString(data []byte) (string, int) {
	var sb strings.Builder
	depth := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					sb.WriteRune(rune(val))
				} else {
					sb.WriteByte(e)
				}
			}
		case c == '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(data)
}

func decodeHexString(h []byte) string {
	clean := bytes.Map(func(r rune) rune {
		if isPDFSpace(byte(r)) {
			return -1
		}
		return r
	}, h)
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, hex.DecodedLen(len(clean)))
	n, err := hex.Decode(out, clean)
	if err != nil {
		return ""
	}
	out = out[:n]
	// UTF-16BE with BOM
	if len(out) >= 2 && out[0] == 0xFE && out[1] == 0xFF {
		var sb strings.Builder
		for i := 2; i+1 < len(out); i += 2 {
			sb.WriteRune(rune(out[i])<<8 | rune(out[i+1]))
		}
		return sb.String()
	}
	return string(out)
}

// normalizePDFText trims each line and drops empty ones, keeping inner column gaps.
func normalizePDFText(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.Map(func(r rune) rune {
			if r == '\t' {
				return ' '
			}
			return r
		}, line))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
