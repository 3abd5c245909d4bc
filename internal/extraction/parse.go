package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/referral-engine/internal/model"
)

var (
	jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
	nonDigit   = regexp.MustCompile(`\D`)
)

// rawField mirrors the JSON object the model returns per field.
// Confidence is a pointer so an explicit 0 survives: it means "present
// but unreadable" and routes the field to manual entry, while a missing
// key gets the neutral default.
type rawField struct {
	Value      any    `json:"value"`
	Confidence *int   `json:"confidence"`
	Source     string `json:"source"`
}

// ParseResponse parses the model's JSON reply into an extraction field
// map. A malformed reply returns an empty map, not an error: the message
// proceeds through the pipeline at zero confidence and review catches it.
func ParseResponse(text string) map[string]model.ExtractedField {
	fields := make(map[string]model.ExtractedField)

	blob := jsonObject.FindString(text)
	if blob == "" {
		return fields
	}

	var raw map[string]rawField
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return fields
	}

	for name, rf := range raw {
		value := stringValue(rf.Value)
		if value == "" {
			continue
		}
		confidence := 50
		if rf.Confidence != nil {
			confidence = *rf.Confidence
		}
		source := rf.Source
		if source == "" {
			source = "email_body"
		}
		fields[name] = model.ExtractedField{
			Value:      normalizeField(name, value),
			Confidence: confidence,
			Source:     source,
		}
	}
	return fields
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

// normalizeField applies per-field canonical formats so the model's
// occasional rule slips don't leak into referrals.
func normalizeField(name, value string) string {
	switch name {
	case model.FieldDateOfBirth, model.FieldDateOfInjury:
		if d := NormalizeDate(value); d != "" {
			return d
		}
	case model.FieldAdjusterPhone:
		return NormalizePhone(value)
	case model.FieldAddressState, model.FieldJurisdictionState:
		if len(value) == 2 {
			return strings.ToUpper(value)
		}
	}
	return value
}

// StripHTML removes tags and decodes the common entities that show up in
// HTML-only referral emails.
func StripHTML(text string) string {
	if text == "" {
		return ""
	}
	clean := htmlTag.ReplaceAllString(text, " ")
	clean = whitespace.ReplaceAllString(clean, " ")
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	return strings.TrimSpace(replacer.Replace(clean))
}

// NormalizePhone formats a US phone number as (XXX) XXX-XXXX, returning
// the input unchanged when digits don't line up.
func NormalizePhone(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("(%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
	default:
		return phone
	}
}

var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"01-02-2006",
	"01-02-06",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// NormalizeDate converts a date string to YYYY-MM-DD, or "" when no known
// format matches.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
