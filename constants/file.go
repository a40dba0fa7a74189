package constants

import (
	"mime"
	"strings"
)

// Document formats understood by the engine.
const (
	SPREADSHEET = "SPREADSHEET"
	DELIMITED   = "DELIMITED"
	PDF         = "PDF"
	IMAGE       = "IMAGE"
)

// FileTypes holds the allowed values for the format column.
var FileTypes = []string{SPREADSHEET, DELIMITED, PDF, IMAGE}

var mimeFormats = map[string]string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": SPREADSHEET,
	"application/vnd.ms-excel.sheet.macroenabled.12":                    SPREADSHEET,
	"text/csv":        DELIMITED,
	"application/csv": DELIMITED,
	"text/plain":      DELIMITED,
	"application/pdf": PDF,
	"image/png":       IMAGE,
	"image/jpeg":      IMAGE,
	"image/jpg":       IMAGE,
	"image/tiff":      IMAGE,
	"image/webp":      IMAGE,
}

var extFormats = map[string]string{
	"xlsx": SPREADSHEET,
	"xlsm": SPREADSHEET,
	"csv":  DELIMITED,
	"txt":  DELIMITED,
	"pdf":  PDF,
	"png":  IMAGE,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"tif":  IMAGE,
	"tiff": IMAGE,
	"webp": IMAGE,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeMIME lowercases a MIME type and strips parameters (charset etc.).
func NormalizeMIME(mt string) string {
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// MapMIMEToFormat returns the document format for a declared MIME type, or "".
func MapMIMEToFormat(mt string) string {
	return mimeFormats[NormalizeMIME(mt)]
}

// MapExtToFormat returns the document format for a file extension, or "".
func MapExtToFormat(ext string) string {
	return extFormats[NormalizeExt(ext)]
}

// MIMEForExt returns the canonical MIME type for an extension, or "".
func MIMEForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "xlsm":
		return "application/vnd.ms-excel.sheet.macroenabled.12"
	case "csv":
		return "text/csv"
	case "txt":
		return "text/plain"
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	}
	return ""
}
