// Package refdata provides the embedded reference catalog: ICD-10
// diagnosis codes and CPT procedure codes used for validation and
// enrichment. The embedded baseline covers common workers' compensation
// diagnoses; deployments seed larger datasets into the store.
package refdata

import (
	"embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/referral-engine/internal/model"
)

//go:embed data/icd10.yaml data/procedures.yaml
var dataFiles embed.FS

// icd10Format matches codes like M54.5 or S43.001A.
var icd10Format = regexp.MustCompile(`^[A-Z]\d{2}(\.\d{1,4}[A-Z]?)?$`)

// Catalog holds the loaded reference data with lookup indexes.
type Catalog struct {
	icd10       map[string]model.ICD10Code
	icd10List   []model.ICD10Code
	procedures  []model.ProcedureCode
	byService   map[string][]model.ProcedureCode
	byProcedure map[string]model.ProcedureCode
}

// Load parses the embedded reference data.
func Load() (*Catalog, error) {
	icd10Raw, err := dataFiles.ReadFile("data/icd10.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read icd10 data")
	}
	procRaw, err := dataFiles.ReadFile("data/procedures.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read procedure data")
	}
	return build(icd10Raw, procRaw)
}

// LoadDir parses reference data from a directory holding icd10.yaml and
// procedures.yaml, replacing the embedded baseline.
func LoadDir(dir string) (*Catalog, error) {
	icd10Raw, err := os.ReadFile(filepath.Join(dir, "icd10.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read icd10 data")
	}
	procRaw, err := os.ReadFile(filepath.Join(dir, "procedures.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read procedure data")
	}
	return build(icd10Raw, procRaw)
}

func build(icd10Raw, procRaw []byte) (*Catalog, error) {
	c := &Catalog{
		icd10:       make(map[string]model.ICD10Code),
		byService:   make(map[string][]model.ProcedureCode),
		byProcedure: make(map[string]model.ProcedureCode),
	}

	if err := yaml.Unmarshal(icd10Raw, &c.icd10List); err != nil {
		return nil, eris.Wrap(err, "refdata: parse icd10 data")
	}
	for _, code := range c.icd10List {
		c.icd10[strings.ToUpper(code.Code)] = code
	}

	if err := yaml.Unmarshal(procRaw, &c.procedures); err != nil {
		return nil, eris.Wrap(err, "refdata: parse procedure data")
	}
	for _, p := range c.procedures {
		key := strings.ToLower(p.ServiceType)
		c.byService[key] = append(c.byService[key], p)
		c.byProcedure[strings.ToUpper(p.Code)] = p
	}

	return c, nil
}

// NormalizeICD10 uppercases a code and strips spaces.
func NormalizeICD10(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}

// ValidICD10Format reports whether the code matches the ICD-10 shape.
func ValidICD10Format(code string) bool {
	return icd10Format.MatchString(code)
}

// ICD10Codes returns every loaded diagnosis code, for store seeding.
func (c *Catalog) ICD10Codes() []model.ICD10Code {
	return c.icd10List
}

// LookupICD10 finds a diagnosis code after normalization.
func (c *Catalog) LookupICD10(code string) (model.ICD10Code, bool) {
	got, ok := c.icd10[NormalizeICD10(code)]
	return got, ok
}

// SearchICD10 returns diagnosis codes whose description contains every
// given keyword, for suggesting corrections when an extracted code fails
// validation.
func (c *Catalog) SearchICD10(keywords string, limit int) []model.ICD10Code {
	terms := strings.Fields(strings.ToLower(keywords))
	if len(terms) == 0 {
		return nil
	}

	var matches []model.ICD10Code
	for _, code := range c.icd10List {
		desc := strings.ToLower(code.Description)
		all := true
		for _, term := range terms {
			if !strings.Contains(desc, term) {
				all = false
				break
			}
		}
		if all {
			matches = append(matches, code)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches
}

// LookupProcedure finds a procedure code by exact match.
func (c *Catalog) LookupProcedure(code string) (model.ProcedureCode, bool) {
	got, ok := c.byProcedure[strings.ToUpper(strings.TrimSpace(code))]
	return got, ok
}

// ProceduresForService returns the procedure codes registered for a
// service type, primary suggestion first.
func (c *Catalog) ProceduresForService(serviceType string) []model.ProcedureCode {
	return c.byService[strings.ToLower(serviceType)]
}

// CategorizeService maps a free-text service request onto a standard
// service type, or "" when nothing matches.
func CategorizeService(service string) string {
	s := strings.ToLower(service)

	for _, kw := range []string{"pt ", "physical therapy", "pt evaluation", "pt eval", "therapeutic exercise"} {
		if strings.Contains(s, kw) {
			if strings.Contains(s, "eval") {
				return "PT Evaluation"
			}
			return "PT Treatment"
		}
	}
	if strings.Contains(s, "mri") {
		return "MRI"
	}
	if strings.Contains(s, "ct ") || strings.Contains(s, "ct scan") || strings.Contains(s, "computed tomography") {
		return "CT Scan"
	}
	if strings.Contains(s, "x-ray") || strings.Contains(s, "xray") || strings.Contains(s, "radiograph") {
		return "X-Ray"
	}
	if strings.Contains(s, "ultrasound") || strings.Contains(s, "sonograph") {
		return "Ultrasound"
	}
	if strings.Contains(s, "ime") || strings.Contains(s, "independent medical") {
		return "IME"
	}
	if strings.Contains(s, "fce") || strings.Contains(s, "functional capacity") {
		return "FCE"
	}
	if strings.Contains(s, "chiro") {
		return "Chiropractic"
	}
	if strings.Contains(s, "ot ") || strings.Contains(s, "occupational therapy") {
		return "OT Treatment"
	}
	return ""
}
