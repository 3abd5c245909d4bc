// Package provider holds the provider reference dimension: who can
// perform a requested service, how soon, and at what negotiated rate.
// Care coordination consults it when picking where an approved referral
// gets scheduled. Like refdata, an embedded baseline ships with the
// binary and deployments point at their own directory.
package provider

import (
	"embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/referral-engine/internal/model"
)

//go:embed data/providers.yaml data/rates.yaml
var dataFiles embed.FS

// Match scores.
const (
	baseScore         = 50.0
	stateScore        = 20.0
	acceptingScore    = 10.0
	zipPrefixScore    = 15.0
	zipAreaScore      = 5.0
	maxScore          = 100.0
	shortWaitDays     = 3
	mediumWaitDays    = 7
	longWaitDays      = 14
	shortWaitScore    = 15.0
	mediumWaitScore   = 10.0
	longWaitScore     = 5.0
	candidateOverscan = 2
)

// Directory indexes the provider and rate reference data.
type Directory struct {
	providers []model.Provider
	rates     []model.RateSchedule
	byService map[string][]model.Provider
}

// Load parses the embedded provider data.
func Load() (*Directory, error) {
	provRaw, err := dataFiles.ReadFile("data/providers.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "provider: read provider data")
	}
	rateRaw, err := dataFiles.ReadFile("data/rates.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "provider: read rate data")
	}
	return build(provRaw, rateRaw)
}

// LoadDir parses provider data from a directory holding providers.yaml
// and rates.yaml, replacing the embedded baseline.
func LoadDir(dir string) (*Directory, error) {
	provRaw, err := os.ReadFile(filepath.Join(dir, "providers.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "provider: read provider data")
	}
	rateRaw, err := os.ReadFile(filepath.Join(dir, "rates.yaml"))
	if err != nil {
		return nil, eris.Wrap(err, "provider: read rate data")
	}
	return build(provRaw, rateRaw)
}

func build(provRaw, rateRaw []byte) (*Directory, error) {
	d := &Directory{byService: make(map[string][]model.Provider)}

	if err := yaml.Unmarshal(provRaw, &d.providers); err != nil {
		return nil, eris.Wrap(err, "provider: parse provider data")
	}
	for _, p := range d.providers {
		for _, s := range p.ServiceTypes {
			key := strings.ToLower(strings.TrimSpace(s))
			d.byService[key] = append(d.byService[key], p)
		}
	}

	if err := yaml.Unmarshal(rateRaw, &d.rates); err != nil {
		return nil, eris.Wrap(err, "provider: parse rate data")
	}
	return d, nil
}

// Providers returns every loaded provider.
func (d *Directory) Providers() []model.Provider {
	return d.providers
}

// Criteria narrows a provider match.
type Criteria struct {
	ServiceType string
	State       string
	Zip         string
	Carrier     string
	Limit       int
}

// Match is one scored provider candidate. Rate is nil when no schedule
// covers the carrier and service.
type Match struct {
	Provider model.Provider      `json:"provider"`
	Score    float64             `json:"score"`
	Rate     *model.RateSchedule `json:"rate,omitempty"`
}

// FindMatches returns active providers offering the service, best match
// first. Scoring favors in-state providers with short waits near the
// claimant's zip.
func (d *Directory) FindMatches(c Criteria) []Match {
	limit := c.Limit
	if limit <= 0 {
		limit = 10
	}

	var matches []Match
	for _, p := range d.byService[strings.ToLower(strings.TrimSpace(c.ServiceType))] {
		if !p.Active || !p.AcceptingNew {
			continue
		}
		if c.State != "" && p.State != "" && !strings.EqualFold(p.State, c.State) {
			continue
		}
		m := Match{Provider: p, Score: score(p, c)}
		if c.Carrier != "" {
			m.Rate = d.FindRate(c.Carrier, c.ServiceType, c.State, "")
		}
		matches = append(matches, m)
		if len(matches) >= limit*candidateOverscan {
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func score(p model.Provider, c Criteria) float64 {
	s := baseScore
	if c.State != "" && strings.EqualFold(p.State, c.State) {
		s += stateScore
	}
	if p.AcceptingNew {
		s += acceptingScore
	}
	if p.AvgWaitDays != nil {
		switch wait := *p.AvgWaitDays; {
		case wait <= shortWaitDays:
			s += shortWaitScore
		case wait <= mediumWaitDays:
			s += mediumWaitScore
		case wait <= longWaitDays:
			s += longWaitScore
		}
	}
	if len(c.Zip) >= 3 && len(p.Zip) >= 3 {
		switch {
		case p.Zip[:3] == c.Zip[:3]:
			s += zipPrefixScore
		case p.Zip[:2] == c.Zip[:2]:
			s += zipAreaScore
		}
	}
	if s > maxScore {
		s = maxScore
	}
	return s
}

// FindRate returns the most specific rate for a carrier and service:
// state plus body region, then state, then body region, then the base
// rate. Nil when no schedule covers the combination.
func (d *Directory) FindRate(carrier, serviceType, state, bodyRegion string) *model.RateSchedule {
	var candidates []model.RateSchedule
	for _, r := range d.rates {
		if strings.EqualFold(r.Carrier, carrier) && strings.EqualFold(r.ServiceType, serviceType) {
			candidates = append(candidates, r)
		}
	}

	pick := func(wantState, wantRegion bool) *model.RateSchedule {
		for i := range candidates {
			r := &candidates[i]
			if wantState != (r.State != "") || wantRegion != (r.BodyRegion != "") {
				continue
			}
			if wantState && !strings.EqualFold(r.State, state) {
				continue
			}
			if wantRegion && !strings.EqualFold(r.BodyRegion, bodyRegion) {
				continue
			}
			return r
		}
		return nil
	}

	if state != "" && bodyRegion != "" {
		if r := pick(true, true); r != nil {
			return r
		}
	}
	if state != "" {
		if r := pick(true, false); r != nil {
			return r
		}
	}
	if bodyRegion != "" {
		if r := pick(false, true); r != nil {
			return r
		}
	}
	return pick(false, false)
}
