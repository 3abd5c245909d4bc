package model

import "strings"

// Provider is one service provider (imaging center, PT clinic, IME
// examiner) from the provider reference dataset.
type Provider struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	NPI          string   `json:"npi,omitempty" yaml:"npi,omitempty"`
	City         string   `json:"city,omitempty" yaml:"city,omitempty"`
	State        string   `json:"state,omitempty" yaml:"state,omitempty"`
	Zip          string   `json:"zip,omitempty" yaml:"zip,omitempty"`
	Phone        string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email        string   `json:"email,omitempty" yaml:"email,omitempty"`
	ServiceTypes []string `json:"service_types" yaml:"service_types"`
	AcceptingNew bool     `json:"accepting_new" yaml:"accepting_new"`
	// AvgWaitDays is the typical days until first appointment; nil when
	// unknown.
	AvgWaitDays *int `json:"avg_wait_days,omitempty" yaml:"avg_wait_days,omitempty"`
	Active      bool `json:"active" yaml:"active"`
}

// Offers reports whether the provider is registered for a service type.
func (p *Provider) Offers(serviceType string) bool {
	for _, s := range p.ServiceTypes {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(serviceType)) {
			return true
		}
	}
	return false
}

// RateSchedule is one negotiated rate for a carrier and service type.
// State and body region narrow the rate; blank means it applies anywhere.
type RateSchedule struct {
	Carrier     string  `json:"carrier" yaml:"carrier"`
	ServiceType string  `json:"service_type" yaml:"service_type"`
	State       string  `json:"state,omitempty" yaml:"state,omitempty"`
	BodyRegion  string  `json:"body_region,omitempty" yaml:"body_region,omitempty"`
	Amount      float64 `json:"amount" yaml:"amount"`
	Unit        string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}
