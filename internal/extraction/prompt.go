package extraction

import (
	"fmt"
	"strings"

	"github.com/sells-group/referral-engine/internal/model"
)

// fieldDef describes one extractable field for prompt assembly.
type fieldDef struct {
	Name string
	Hint string
}

// Critical fields gate approval downstream; the tiers steer the model's
// attention the way an intake specialist reads a referral.
var (
	criticalFields = []fieldDef{
		{model.FieldClaimantFirstName, "Patient/claimant first name from the demographics section ('Patient', 'Claimant', 'Injured Worker')"},
		{model.FieldClaimantLastName, "Patient/claimant last name"},
		{model.FieldClaimNumber, "Workers' comp claim number; subject line or headers; patterns WC-YYYY-XXXXXX, YYYY-XXXXXX, 6-8 digit numbers"},
		{model.FieldCarrier, "Insurance company/carrier name; email domain, letterhead, or signature block"},
		{model.FieldServiceRequested, "Requested service(s) with details: body part, with/without contrast; may list multiple services"},
	}

	highFields = []fieldDef{
		{model.FieldDateOfBirth, "Date of birth as YYYY-MM-DD; 'DOB', 'Date of Birth'"},
		{model.FieldDateOfInjury, "Date the injury occurred as YYYY-MM-DD; 'DOI', 'Injury Date'"},
		{model.FieldBodyParts, "Injured body parts in proper anatomical terms; 'left shoulder' not 'L shoulder'"},
		{model.FieldICD10Code, "ICD-10 diagnosis code; 'ICD-10', 'Diagnosis Code', 'Dx'; letter + digits + optional decimal (M54.5, S43.001A)"},
		{model.FieldICD10Description, "Description adjacent to the ICD-10 code"},
	}

	standardFields = []fieldDef{
		{model.FieldAddressLine1, "Claimant street address line 1"},
		{model.FieldAddressCity, "Claimant city"},
		{model.FieldAddressState, "Claimant state, 2-letter code only"},
		{model.FieldAddressZip, "Claimant ZIP, 5 or 9 digits"},
		{model.FieldJurisdictionState, "State governing the WC claim; may differ from patient address"},
		{model.FieldEmployer, "Patient's employer company name"},
		{model.FieldAuthorizationNo, "Authorization/pre-approval number; 'Auth #', 'UR number'"},
		{model.FieldAdjusterName, "Name of the person sending the referral; signature block or From header"},
		{model.FieldAdjusterEmail, "Adjuster's email address"},
		{model.FieldAdjusterPhone, "Adjuster's phone number from the signature block"},
	}
)

const systemPrompt = `You are a workers' compensation intake specialist. You extract structured data from referral emails for intake form submission.

Return ONLY valid JSON with no additional text, markdown, or explanations. Every extracted field is an object {"value": ..., "confidence": 0-100, "source": "email_body"|"attachment"|"signature"|"from_field"}.

Confidence scoring:
- 95-100: field is explicitly and clearly stated
- 85-94: clearly stated or obvious from context
- 70-84: fairly clear but some ambiguity
- 50-69: significant uncertainty
- below 50: do NOT include the field

Extraction rules:
- Names: split into first and last; strip titles ("Dr. John Smith" -> first "John", last "Smith")
- Dates: always YYYY-MM-DD ("1/15/2026" -> "2026-01-15")
- Phone: normalize to (XXX) XXX-XXXX
- State: 2-letter codes ("California" -> "CA")
- ICD-10: letter + 2 digits + optional decimal suffix (M54.5, S43.001A)`

// BuildPrompt assembles the user message for one email.
func BuildPrompt(sender, subject, body string, attachmentTexts []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Source Email:**\nFrom: %s\nSubject: %s\n\nBody:\n%s\n", sender, subject, truncate(body, 10000))

	if len(attachmentTexts) > 0 {
		b.WriteString("\n**Attachment Contents:**\n")
		for i, text := range attachmentTexts {
			fmt.Fprintf(&b, "\n--- Attachment %d ---\n%s\n", i+1, truncate(text, 5000))
		}
	}

	b.WriteString("\nCRITICAL FIELDS [REQUIRED]:\n")
	writeFieldDefs(&b, criticalFields)
	b.WriteString("\nHIGH PRIORITY FIELDS:\n")
	writeFieldDefs(&b, highFields)
	b.WriteString("\nADDITIONAL FIELDS:\n")
	writeFieldDefs(&b, standardFields)

	b.WriteString("\nRETURN ONLY THE JSON OBJECT MAPPING FIELD NAMES TO {value, confidence, source}. NO OTHER TEXT.\n")
	return b.String()
}

func writeFieldDefs(b *strings.Builder, defs []fieldDef) {
	for _, d := range defs {
		fmt.Fprintf(b, "- %s: %s\n", d.Name, d.Hint)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
