package model

import "time"

// Extraction field names produced by the adapter. Kept as constants so the
// enricher and workflow engine never reference fields by raw string.
const (
	FieldClaimNumber       = "claim_number"
	FieldClaimantFirstName = "claimant_first_name"
	FieldClaimantLastName  = "claimant_last_name"
	FieldCarrier           = "carrier"
	FieldAdjusterName      = "adjuster_name"
	FieldAdjusterEmail     = "adjuster_email"
	FieldAdjusterPhone     = "adjuster_phone"
	FieldDateOfBirth       = "date_of_birth"
	FieldDateOfInjury      = "date_of_injury"
	FieldJurisdictionState = "jurisdiction_state"
	FieldAddressLine1      = "address_line_1"
	FieldAddressCity       = "address_city"
	FieldAddressState      = "address_state"
	FieldAddressZip        = "address_zip"
	FieldEmployer          = "employer"
	FieldServiceRequested  = "service_requested"
	FieldICD10Code         = "icd10_code"
	FieldICD10Description  = "icd10_description"
	FieldBodyParts         = "body_parts"
	FieldAuthorizationNo   = "authorization_number"
)

// ExtractedField is one field value from an extraction attempt with its
// 0-100 confidence score and the source excerpt that produced it.
type ExtractedField struct {
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	Source     string `json:"source,omitempty"`
}

// ExtractionResult is the immutable output of one extraction attempt
// against one message. Retries insert new results, never edit old ones.
type ExtractionResult struct {
	ID          string                    `json:"id"`
	MessageID   string                    `json:"message_id"`
	Attempt     int                       `json:"attempt"`
	Fields      map[string]ExtractedField `json:"fields"`
	Model       string                    `json:"model,omitempty"`
	ExtractedAt time.Time                 `json:"extracted_at"`
}

// Field returns the named field, or a zero ExtractedField when absent.
func (r *ExtractionResult) Field(name string) ExtractedField {
	if r == nil || r.Fields == nil {
		return ExtractedField{}
	}
	return r.Fields[name]
}

// Value returns the named field's value, or "" when absent.
func (r *ExtractionResult) Value(name string) string {
	return r.Field(name).Value
}
