// Package enrich runs the deterministic second pass over extraction
// results: ICD-10 validation against the reference catalog, category and
// body region metadata, and procedure code derivation from the requested
// service. No LLM calls happen here; given the same inputs the output is
// identical.
package enrich

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/refdata"
)

// Derived field names added to an extraction result by enrichment.
const (
	FieldValidatedICD10      = "validated_icd10"
	FieldICD10Category       = "icd10_category"
	FieldICD10BodyRegion     = "icd10_body_region"
	FieldAssociatedProcedure = "associated_procedure_code"
)

// Sources stamped on derived fields.
const (
	SourceReferenceValidation = "reference_validation"
	SourceReferenceData       = "reference_data"
	SourceReferenceLookup     = "reference_lookup"
	SourceReferenceSearch     = "reference_search"
)

// Catalog metadata carries fixed confidence: reference rows are curated,
// so only the validated code inherits (boosted) extraction confidence.
const (
	metadataConfidence  = 95
	lookupConfidence    = 85
	candidateConfidence = 50
)

// Metadata reports what enrichment did to a result.
type Metadata struct {
	ICD10Validated      bool     `json:"icd10_validated"`
	ProcedureCodesFound int      `json:"procedure_codes_found"`
	Warnings            []string `json:"warnings,omitempty"`
}

// Enricher validates and augments extraction results against the
// reference catalog.
type Enricher struct {
	catalog *refdata.Catalog
}

// NewEnricher returns an Enricher over the given catalog.
func NewEnricher(catalog *refdata.Catalog) *Enricher {
	return &Enricher{catalog: catalog}
}

// Enrich mutates the result's field map in place, adding derived fields.
// The extracted fields themselves are never modified or blanked; a failed
// validation leaves the original value for the reviewer to see.
func (e *Enricher) Enrich(result *model.ExtractionResult) Metadata {
	var meta Metadata
	if result.Fields == nil {
		result.Fields = make(map[string]model.ExtractedField)
	}
	e.enrichICD10(result, &meta)
	e.deriveProcedure(result, &meta)
	return meta
}

func (e *Enricher) enrichICD10(result *model.ExtractionResult, meta *Metadata) {
	field := result.Field(model.FieldICD10Code)
	if field.Value == "" {
		return
	}

	normalized := refdata.NormalizeICD10(field.Value)
	if !refdata.ValidICD10Format(normalized) {
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("invalid ICD-10 format: %s", field.Value))
		e.searchCandidate(result, meta)
		return
	}

	code, ok := e.catalog.LookupICD10(normalized)
	if !ok {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("ICD-10 code not found in reference table: %s", normalized))
		e.searchCandidate(result, meta)
		return
	}

	meta.ICD10Validated = true
	result.Fields[FieldValidatedICD10] = model.ExtractedField{
		Value:      code.Code,
		Confidence: min(field.Confidence+5, 100),
		Source:     SourceReferenceValidation,
	}
	if code.Category != "" {
		result.Fields[FieldICD10Category] = model.ExtractedField{
			Value:      code.Category,
			Confidence: metadataConfidence,
			Source:     SourceReferenceData,
		}
	}
	if code.BodyRegion != "" {
		result.Fields[FieldICD10BodyRegion] = model.ExtractedField{
			Value:      code.BodyRegion,
			Confidence: metadataConfidence,
			Source:     SourceReferenceData,
		}
	}

	zap.L().Debug("icd10 validated",
		zap.String("message_id", result.MessageID),
		zap.String("code", code.Code),
	)
}

// searchCandidate falls back to a description search when the extracted
// code fails validation. The candidate goes in at reduced confidence so
// the review policy forces a human to confirm it.
func (e *Enricher) searchCandidate(result *model.ExtractionResult, meta *Metadata) {
	desc := result.Value(model.FieldICD10Description)
	if desc == "" {
		return
	}

	matches := e.catalog.SearchICD10(foldText(desc), 1)
	if len(matches) == 0 {
		return
	}

	candidate := matches[0]
	confidence := candidateConfidence
	if c := result.Field(model.FieldICD10Code).Confidence; c < confidence {
		confidence = c
	}
	result.Fields[FieldValidatedICD10] = model.ExtractedField{
		Value:      candidate.Code,
		Confidence: confidence,
		Source:     SourceReferenceSearch,
	}
	meta.Warnings = append(meta.Warnings,
		fmt.Sprintf("ICD-10 candidate %s matched by description search, needs confirmation", candidate.Code))
}

func (e *Enricher) deriveProcedure(result *model.ExtractionResult, meta *Metadata) {
	service := result.Value(model.FieldServiceRequested)
	if service == "" {
		return
	}

	serviceType := refdata.CategorizeService(service)
	if serviceType == "" {
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("could not categorize service: %s", service))
		return
	}

	codes := e.catalog.ProceduresForService(serviceType)
	if len(codes) == 0 {
		return
	}
	meta.ProcedureCodesFound = len(codes)

	primary := codes[0]
	result.Fields[FieldAssociatedProcedure] = model.ExtractedField{
		Value:      primary.Code,
		Confidence: lookupConfidence,
		Source:     SourceReferenceLookup,
	}

	if len(codes) > 1 {
		var others []string
		for _, c := range codes[1:] {
			others = append(others, c.Code)
			if len(others) == 3 {
				break
			}
		}
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("multiple procedure codes available for %s: %s",
				serviceType, strings.Join(others, ", ")))
	}

	zap.L().Debug("procedure code derived",
		zap.String("message_id", result.MessageID),
		zap.String("service_type", serviceType),
		zap.String("code", primary.Code),
	)
}

// ResolveDrafts fills in the procedure code on each decomposed service
// draft from the reference catalog. The draft's own service type wins;
// otherwise the description is categorized. A body-region-specific code
// is preferred when the draft names a region.
func (e *Enricher) ResolveDrafts(drafts []model.LineItemDraft) {
	for i := range drafts {
		d := &drafts[i]
		serviceType := d.ServiceType
		if serviceType == "" {
			serviceType = refdata.CategorizeService(d.Description)
		}
		if serviceType == "" {
			continue
		}

		codes := e.catalog.ProceduresForService(serviceType)
		if len(codes) == 0 {
			continue
		}
		pick := codes[0]
		if d.BodyRegion != "" {
			for _, c := range codes {
				if regionMatches(d.BodyRegion, c.BodyRegion) {
					pick = c
					break
				}
			}
		}
		d.ProcedureCode = pick.Code
	}
}

// regionMatches compares a draft's body region against a catalog row's,
// tolerating the catalog's coarser granularity ("Lumbar Spine" matches
// "Spine").
func regionMatches(draftRegion, catalogRegion string) bool {
	d := strings.ToLower(draftRegion)
	c := strings.ToLower(catalogRegion)
	return d == c || strings.Contains(d, c) || strings.Contains(c, d)
}

// foldText lowercases and strips diacritics so accented descriptions
// still match catalog entries.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}
