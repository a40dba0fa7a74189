package llm

import (
	"encoding/base64"
	"net/http"
)

// DataURL encodes an image for inline transport. An empty MIME type is sniffed from the bytes.
func DataURL(img Image) string {
	mt := img.MIMEType
	if mt == "" {
		mt = http.DetectContentType(img.Data)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
