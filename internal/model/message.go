package model

import "time"

// MessageStatus tracks an inbound message through the extraction pipeline.
type MessageStatus string

const (
	MessageStatusNew        MessageStatus = "new"
	MessageStatusQueued     MessageStatus = "queued"
	MessageStatusExtracting MessageStatus = "extracting"
	MessageStatusExtracted  MessageStatus = "extracted"
	MessageStatusFailed     MessageStatus = "failed"
)

// Message is one inbound referral email. Created exactly once per external
// id by the ingestion gate; status-transitioned, never deleted.
type Message struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	BodyRef    string    `json:"body_ref"` // storage key for the raw body
	ReceivedAt time.Time `json:"received_at"`

	// AttachmentRefs are storage keys for raw attachments, in arrival order.
	AttachmentRefs []string      `json:"attachment_refs,omitempty"`
	Status         MessageStatus `json:"status"`

	// Flagged marks messages whose metadata could not be fully parsed at
	// ingestion. They still enter the pipeline and surface to reviewers.
	Flagged    bool   `json:"flagged"`
	FlagReason string `json:"flag_reason,omitempty"`

	ExtractionAttempts int       `json:"extraction_attempts"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
