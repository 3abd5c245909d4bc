// Package lineitem decomposes free-text service requests into structured
// line item drafts: per-service type, modality, body region, laterality,
// contrast, and quantity.
package lineitem

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/referral-engine/internal/model"
)

// servicePattern maps keywords to a canonical service type. Order matters:
// the first matching pattern wins, so the more specific entries come
// before their prefixes (PT Evaluation before PT Treatment).
type servicePattern struct {
	name     string
	modality model.Modality
	keywords []string
}

var servicePatterns = []servicePattern{
	{"MRI", model.ModalityImaging, []string{"mri", "magnetic resonance", "mr imaging", "mr scan"}},
	{"CT Scan", model.ModalityImaging, []string{"ct", "cat scan", "computed tomography"}},
	{"X-Ray", model.ModalityImaging, []string{"x-ray", "xray", "x ray", "radiograph", "plain film"}},
	{"Ultrasound", model.ModalityImaging, []string{"ultrasound", "sonograph", "us", "sonogram"}},
	{"PT Evaluation", model.ModalityPhysicalTherapy, []string{"pt eval", "physical therapy eval", "pt evaluation"}},
	{"PT Treatment", model.ModalityPhysicalTherapy, []string{"pt", "physical therapy", "physiotherapy", "pt treatment", "therapeutic exercise"}},
	{"OT Evaluation", model.ModalityOccupationalTherapy, []string{"ot eval", "occupational therapy eval"}},
	{"OT Treatment", model.ModalityOccupationalTherapy, []string{"ot", "occupational therapy"}},
	{"Chiropractic", model.ModalityChiropractic, []string{"chiro", "chiropractic", "spinal manipulation"}},
	{"IME", model.ModalityIME, []string{"ime", "independent medical exam", "independent medical evaluation"}},
	{"FCE", model.ModalityFCE, []string{"fce", "functional capacity", "functional capacity evaluation"}},
	{"Injection", model.ModalityInjection, []string{"injection", "epidural", "nerve block", "facet", "trigger point", "cortisone"}},
}

type regionPattern struct {
	name     string
	keywords []string
}

var regionPatterns = []regionPattern{
	{"Lumbar Spine", []string{"lumbar", "lower back", "l-spine", "lumbosacral", "ls spine"}},
	{"Cervical Spine", []string{"cervical", "c-spine", "neck"}},
	{"Thoracic Spine", []string{"thoracic", "t-spine", "mid back", "dorsal"}},
	{"Shoulder", []string{"shoulder", "rotator cuff", "glenohumeral"}},
	{"Elbow", []string{"elbow", "cubital"}},
	{"Wrist", []string{"wrist", "carpal"}},
	{"Hand", []string{"hand", "finger", "thumb"}},
	{"Hip", []string{"hip", "pelvis", "acetabul"}},
	{"Knee", []string{"knee", "patella", "meniscus", "acl", "mcl"}},
	{"Ankle", []string{"ankle", "achilles"}},
	{"Foot", []string{"foot", "toe", "plantar"}},
	{"Brain", []string{"brain", "head", "cranial"}},
}

// Bilateral first: "bilateral" must never token-match as left or right.
var lateralityPatterns = []struct {
	name     string
	keywords []string
}{
	{"bilateral", []string{"bilateral", "both", "b/l", "bil"}},
	{"left", []string{"left", "l", "lt"}},
	{"right", []string{"right", "r", "rt"}},
}

var (
	wordSplit     = regexp.MustCompile(`[^a-z0-9/-]+`)
	andSplit      = regexp.MustCompile(`(?i)\s+and\s+`)
	quantityRegex = regexp.MustCompile(`x\s*(\d+)|(\d+)\s*(visits?|sessions?|treatments?)`)
)

// Decompose splits raw service-request text into one draft per requested
// service. Empty or unrecognized input still yields exactly one draft at
// confidence zero so every referral has at least one line for review.
func Decompose(serviceText string, confidence int) []model.LineItemDraft {
	parts := splitServices(serviceText)

	var drafts []model.LineItemDraft
	for _, part := range parts {
		if len(part) < 3 {
			continue
		}
		drafts = append(drafts, parseService(part, confidence))
	}

	if len(drafts) == 0 {
		drafts = append(drafts, model.LineItemDraft{
			Description: strings.TrimSpace(serviceText),
			Confidence:  0,
		})
	}
	return drafts
}

// splitServices breaks the text on commas, semicolons, newlines, and
// conjunctions. Commas inside parentheses do not split, and "with and
// without" never separates a service from its contrast phrase.
func splitServices(text string) []string {
	text = regexp.MustCompile(`\n+`).ReplaceAllString(text, ", ")
	text = strings.ReplaceAll(text, ";", ",")

	var parts []string
	var current strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '(':
			depth++
			current.WriteRune(r)
		case r == ')':
			depth--
			current.WriteRune(r)
		case r == ',' && depth == 0:
			if s := strings.TrimSpace(current.String()); s != "" {
				parts = append(parts, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		parts = append(parts, s)
	}

	var final []string
	for _, part := range parts {
		lower := strings.ToLower(part)
		if strings.Contains(lower, " and ") && !strings.Contains(lower, "with and without") {
			for _, sub := range andSplit.Split(part, -1) {
				if s := strings.TrimSpace(sub); s != "" {
					final = append(final, s)
				}
			}
			continue
		}
		final = append(final, part)
	}
	return final
}

func parseService(text string, confidence int) model.LineItemDraft {
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)

	draft := model.LineItemDraft{
		Description: text,
		Confidence:  confidence,
	}

	for _, sp := range servicePatterns {
		if matchAny(lower, tokens, sp.keywords) {
			draft.ServiceType = sp.name
			draft.Modality = sp.modality
			break
		}
	}

	for _, rp := range regionPatterns {
		if matchAny(lower, tokens, rp.keywords) {
			draft.BodyRegion = rp.name
			break
		}
	}

	for _, lp := range lateralityPatterns {
		if matchAny(lower, tokens, lp.keywords) {
			draft.Laterality = lp.name
			break
		}
	}

	switch {
	case strings.Contains(lower, "with contrast"),
		strings.Contains(lower, "w/ contrast"),
		strings.Contains(lower, "w/contrast"):
		yes := true
		draft.WithContrast = &yes
	case strings.Contains(lower, "without contrast"),
		strings.Contains(lower, "w/o contrast"),
		strings.Contains(lower, "w/o"):
		no := false
		draft.WithContrast = &no
	}

	if m := quantityRegex.FindStringSubmatch(lower); m != nil {
		qty := m[1]
		if qty == "" {
			qty = m[2]
		}
		if n, err := strconv.Atoi(qty); err == nil {
			draft.Quantity = n
		}
	}

	return draft
}

// matchAny reports whether any keyword appears in the text. Short keywords
// (pt, ct, us, l, rt) match whole tokens only, so "fracture" never reads
// as a CT scan; longer keywords match as substrings to catch stems like
// "acetabul" and inflections.
func matchAny(lower string, tokens map[string]struct{}, keywords []string) bool {
	for _, kw := range keywords {
		if len(kw) <= 3 && !strings.ContainsAny(kw, " -/") {
			if _, ok := tokens[kw]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func tokenSet(lower string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range wordSplit.Split(lower, -1) {
		tok = strings.Trim(tok, "./-")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
