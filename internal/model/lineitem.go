package model

import "time"

// LineItemStatus mirrors the subset of referral states relevant to
// scheduling an individual service.
type LineItemStatus string

const (
	LineItemStatusPending    LineItemStatus = "pending"
	LineItemStatusAuthorized LineItemStatus = "authorized"
	LineItemStatusScheduled  LineItemStatus = "scheduled"
	LineItemStatusCompleted  LineItemStatus = "completed"
	LineItemStatusCancelled  LineItemStatus = "cancelled"
)

// Modality categorizes the kind of medical service requested.
type Modality string

const (
	ModalityImaging             Modality = "imaging"
	ModalityPhysicalTherapy     Modality = "physical_therapy"
	ModalityOccupationalTherapy Modality = "occupational_therapy"
	ModalityChiropractic        Modality = "chiropractic"
	ModalityIME                 Modality = "ime"
	ModalityFCE                 Modality = "fce"
	ModalityInjection           Modality = "injection"
	ModalityDiagnostic          Modality = "diagnostic"
	ModalityOther               Modality = "other"
)

// Line item sources.
const (
	LineItemSourceExtraction = "extraction"
	LineItemSourceManual     = "manual"
)

// LineItemDraft is one decomposed service before persistence. Drafts carry
// the decomposer's confidence so intake review can see what needs fixing.
type LineItemDraft struct {
	Description   string   `json:"description"`
	ServiceType   string   `json:"service_type,omitempty"`
	Modality      Modality `json:"modality,omitempty"`
	BodyRegion    string   `json:"body_region,omitempty"`
	Laterality    string   `json:"laterality,omitempty"`
	WithContrast  *bool    `json:"with_contrast,omitempty"`
	Quantity      int      `json:"quantity,omitempty"`
	ProcedureCode string   `json:"procedure_code,omitempty"`
	Confidence    int      `json:"confidence"`
}

// LineItem is one discrete requested service under a referral.
type LineItem struct {
	ID         string `json:"id"`
	ReferralID string `json:"referral_id"`
	LineNo     int    `json:"line_no"`

	Description  string   `json:"description"`
	ServiceType  string   `json:"service_type,omitempty"`
	Modality     Modality `json:"modality,omitempty"`
	BodyRegion   string   `json:"body_region,omitempty"`
	Laterality   string   `json:"laterality,omitempty"`
	WithContrast *bool    `json:"with_contrast,omitempty"`
	Quantity     int      `json:"quantity,omitempty"`

	// ProcedureCode is derived from the reference catalog; empty when
	// no catalog entry matched the requested service.
	ProcedureCode string `json:"procedure_code,omitempty"`
	ICD10Code     string `json:"icd10_code,omitempty"`

	Confidence int            `json:"confidence"`
	Source     string         `json:"source"`
	Status     LineItemStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Valid reports whether the line item counts toward the approve guard:
// either the decomposer recognized it with some confidence or a human
// entered or corrected it.
func (li *LineItem) Valid() bool {
	return li.Confidence > 0 || li.Source == LineItemSourceManual
}
