package llm

import (
	"bytes"
	"strings"
)

// CleanResponse strips markdown fences and any prose around the outermost JSON value so the
// validator sees only the document the model meant to return.
func CleanResponse(text string) []byte {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	b := []byte(s)
	start := bytes.IndexAny(b, "{[")
	if start < 0 {
		return b
	}
	closer := byte('}')
	if b[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(b, closer)
	if end <= start {
		return b[start:]
	}
	return b[start : end+1]
}
