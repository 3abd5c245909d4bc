package model

import (
	"strings"
	"time"
)

// ReferralStatus is the workflow state of a referral. Transitions are owned
// by the workflow engine; nothing else writes this field.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusInReview  ReferralStatus = "in_review"
	ReferralStatusNeedsInfo ReferralStatus = "needs_info"
	ReferralStatusApproved  ReferralStatus = "approved"
	ReferralStatusSubmitted ReferralStatus = "submitted"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusRejected  ReferralStatus = "rejected"
)

// Terminal reports whether no further transitions are defined from s.
func (s ReferralStatus) Terminal() bool {
	return s == ReferralStatusCompleted || s == ReferralStatusRejected
}

// Priority orders work within a queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFromSubject derives a priority from subject-line keywords.
func PriorityFromSubject(subject string) Priority {
	s := strings.ToLower(subject)
	for _, kw := range []string{"urgent", "asap", "rush", "emergency", "stat"} {
		if strings.Contains(s, kw) {
			return PriorityUrgent
		}
	}
	for _, kw := range []string{"high priority", "important", "expedite"} {
		if strings.Contains(s, kw) {
			return PriorityHigh
		}
	}
	return PriorityMedium
}

// Referral is the canonical unit of work after extraction succeeds.
type Referral struct {
	ID           string `json:"id"`
	MessageID    string `json:"message_id"`
	ExtractionID string `json:"extraction_id"`

	ClaimNumber       string `json:"claim_number"`
	ClaimantFirstName string `json:"claimant_first_name"`
	ClaimantLastName  string `json:"claimant_last_name"`
	Carrier           string `json:"carrier"`
	AdjusterName      string `json:"adjuster_name,omitempty"`
	AdjusterEmail     string `json:"adjuster_email,omitempty"`
	AdjusterPhone     string `json:"adjuster_phone,omitempty"`
	DateOfBirth       string `json:"date_of_birth,omitempty"`
	DateOfInjury      string `json:"date_of_injury,omitempty"`
	JurisdictionState string `json:"jurisdiction_state,omitempty"`
	AddressLine1      string `json:"address_line_1,omitempty"`
	AddressCity       string `json:"address_city,omitempty"`
	AddressState      string `json:"address_state,omitempty"`
	AddressZip        string `json:"address_zip,omitempty"`
	Employer          string `json:"employer,omitempty"`
	ICD10Code         string `json:"icd10_code,omitempty"`
	ICD10Description  string `json:"icd10_description,omitempty"`
	AuthorizationNo   string `json:"authorization_number,omitempty"`

	Status          ReferralStatus `json:"status"`
	Priority        Priority       `json:"priority"`
	NeedsReview     bool           `json:"needs_review"`
	RejectionReason string         `json:"rejection_reason,omitempty"`

	// ReplyRef is the outbound reply reference attached when the reviewer
	// requests more information from the adjuster.
	ReplyRef string `json:"reply_ref,omitempty"`

	// ExportRecordID is the downstream record id set on successful submit.
	ExportRecordID string `json:"export_record_id,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ClaimantName returns the claimant's full name.
func (r *Referral) ClaimantName() string {
	return strings.TrimSpace(strings.TrimSpace(r.ClaimantFirstName) + " " + strings.TrimSpace(r.ClaimantLastName))
}

// MissingCriticalFields returns the names of critical fields that are empty.
// A referral cannot be approved while any critical field is missing.
func (r *Referral) MissingCriticalFields() []string {
	var missing []string
	if strings.TrimSpace(r.ClaimNumber) == "" {
		missing = append(missing, FieldClaimNumber)
	}
	if r.ClaimantName() == "" {
		missing = append(missing, "claimant_name")
	}
	if strings.TrimSpace(r.Carrier) == "" {
		missing = append(missing, FieldCarrier)
	}
	return missing
}
