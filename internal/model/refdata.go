package model

// ICD10Code is one diagnosis code from the reference dataset.
type ICD10Code struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	BodyRegion  string `json:"body_region,omitempty" yaml:"body_region,omitempty"`
}

// ProcedureCode is one billable procedure from the reference dataset,
// keyed for lookup by service type and body region.
type ProcedureCode struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description" yaml:"description"`
	ServiceType string   `json:"service_type" yaml:"service_type"`
	Modality    Modality `json:"modality" yaml:"modality"`
	BodyRegion  string   `json:"body_region,omitempty" yaml:"body_region,omitempty"`
}
