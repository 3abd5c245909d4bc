// Package mail fetches inbound referral emails over IMAP.
package mail

import (
	"context"
	"time"
)

// Attachment is one decoded attachment from an inbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Inbound is a fetched email before ingestion. ExternalID is the provider's
// stable identifier (Message-ID header, falling back to mailbox UID) and
// drives ingestion idempotency.
type Inbound struct {
	ExternalID  string
	ThreadID    string
	Sender      string
	Subject     string
	Body        string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// Client lists new messages from a mailbox.
type Client interface {
	ListNewMessages(ctx context.Context, since time.Time) ([]Inbound, error)
	Close() error
}
