package entity

import "time"

// FeedbackExample is a prior human correction for documents sharing a layout fingerprint.
type FeedbackExample struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	LayoutFingerprint string    `json:"layout_fingerprint"`
	BeforeSnippet     string    `json:"before_snippet"`
	AfterSnippet      string    `json:"after_snippet"`
	CreatedAt         time.Time `json:"created_at"`
}
