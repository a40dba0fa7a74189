package entity

// EmailContext carries the envelope hints of an emailed order.
type EmailContext struct {
	Sender  string `json:"sender,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Document is the order document being extracted. Its bytes live in storage under ContentKey.
type Document struct {
	ID                string       `json:"id"`
	TenantID          string       `json:"tenant_id"`
	ContentKey        string       `json:"content_key"`
	MIMEType          string       `json:"mime_type"`
	Filename          string       `json:"filename,omitempty"`
	PageCount         int          `json:"page_count,omitempty"`
	TextCoverage      *float64     `json:"text_coverage,omitempty"`
	LayoutFingerprint string       `json:"layout_fingerprint,omitempty"`
	PageImageKeys     []string     `json:"page_image_keys,omitempty"`
	Email             EmailContext `json:"email,omitempty"`
}
